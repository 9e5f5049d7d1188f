package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/upload-backend/internal/service"
)

func newReconcileCmd(configPath *string) *cobra.Command {
	var fix bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Сверить реестр слотов с файловым хранилищем",
		Long: `Ищет расхождения между записями реестра и директориями payload.
С --fix удаляет директории без записей и payload удалённых слотов,
восстанавливает директории слотов, ожидающих загрузки.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}

			rs := service.NewReconcileService(a.registry, a.store, a.logger)
			report, skipped := rs.RunOnce(fix)
			if skipped {
				return fmt.Errorf("reconciliation уже выполняется")
			}

			out := cmd.OutOrStdout()
			if len(report.Issues) == 0 {
				fmt.Fprintln(out, styleSuccess.Render(fmt.Sprintf("Расхождений нет, проверено слотов: %d", report.SlotsChecked)))
				return nil
			}

			rows := make([][]string, 0, len(report.Issues))
			for _, issue := range report.Issues {
				status := "—"
				if issue.Fixed {
					status = "исправлено"
				}
				rows = append(rows, []string{string(issue.Type), issue.SlotID, issue.Description, status})
			}
			fmt.Fprintln(out, styleTitle.Render("Reconciliation"))
			renderTable(out, []string{"Тип", "Слот", "Описание", "Статус"}, rows)
			keyValue(out, "slots_checked", report.SlotsChecked)
			keyValue(out, "issues", len(report.Issues))
			keyValue(out, "fixed", report.Fixed())
			return nil
		},
	}

	cmd.Flags().BoolVar(&fix, "fix", false, "исправить безопасные расхождения")
	return cmd
}
