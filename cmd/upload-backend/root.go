package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/upload-backend/internal/config"
)

// newRootCmd собирает дерево команд. Без подкоманды выполняется serve.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "upload-backend",
		Short: "HTTP Upload (XEP-0363) backend для XMPP-серверов",
		Long: styleTitle.Render("upload-backend") + " — выдача слотов загрузки, приём и удаление файлов.\n\n" +
			"Конфигурация: YAML-файл (--config или " + config.ConfigFileEnv + ")\n" +
			"и переменные окружения UPLOAD_*, которые имеют приоритет.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "путь к YAML-файлу конфигурации")

	root.AddCommand(
		newServeCmd(&configPath),
		newSlotsCmd(&configPath),
		newRecoverCmd(&configPath),
		newReconcileCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Показать версию",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "upload-backend "+config.Version)
		},
	}
}
