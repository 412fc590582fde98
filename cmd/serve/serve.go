package serve

import (
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/nebenchat/nebenchat/cmd/util"
	"github.com/nebenchat/nebenchat/pkg/chat"
	"github.com/nebenchat/nebenchat/pkg/config"
	"github.com/nebenchat/nebenchat/pkg/errors"
	"github.com/nebenchat/nebenchat/pkg/server"
	"github.com/nebenchat/nebenchat/pkg/storage"
	"github.com/nebenchat/nebenchat/pkg/user"
)

// New creates a new `serve` command.
func New() *cobra.Command {
	var listen, logFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the NebenChat server.",
		Long: "Run the NebenChat server. With GIT_STORAGE set, all state is\n" +
			"kept in a clone of the given repository and every change is\n" +
			"committed and pushed; otherwise state lives in the local data\n" +
			"directory.",
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(listen, logFile); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "",
		"Address to listen on. Overrides the configured address.")
	cmd.Flags().StringVar(&logFile, "log-file", "",
		"Write logs to this size-rotated file instead of stderr.")
	return cmd
}

func run(listen, logFile string) error {
	cfg, err := config.Parse()
	if err != nil {
		return errors.WithContext(err, "parse config")
	}
	if listen != "" {
		cfg.ListenAddress = listen
	}
	if logFile != "" {
		cfg.LogFile = logFile
	}

	if cfg.LogFile != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // MB
			MaxBackups: 3,
		})
	}

	store, err := storage.New(cfg.StorageRemote, cfg.DataDir)
	if err != nil {
		return errors.WithContext(err, "initialize storage")
	}

	var assistant chat.Assistant
	if cfg.ModelURL != "" {
		assistant = chat.NewAssistant(cfg.ModelURL, cfg.ModelKey, cfg.ModelName)
	} else {
		log.Info("No model endpoint configured. Assistant replies are disabled.")
	}

	users := user.NewStore(store, cfg.SessionSecret)
	srv := server.New(users, chat.NewStore(store), assistant, cfg.SessionSecret)

	log.WithField("address", cfg.ListenAddress).Info("Starting NebenChat")
	if err := http.ListenAndServe(cfg.ListenAddress, srv); err != nil {
		return errors.WithContext(err, "serve")
	}
	return nil
}
