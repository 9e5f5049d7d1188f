package main

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/upload-backend/internal/service"
)

func newSlotsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Операции оператора со слотами",
	}
	cmd.AddCommand(newSlotsListCmd(configPath))
	return cmd
}

func newSlotsListCmd(configPath *string) *cobra.Command {
	var req service.ListRequest

	cmd := &cobra.Command{
		Use:     "list <jid>",
		Aliases: []string{"ls"},
		Short:   "Список слотов пользователя (владелец или получатель)",
		Long: `Выводит слоты, где bare JID совпадает с владельцем или получателем.

Примеры:
  upload-backend slots list alice@example.com
  upload-backend slots list alice@example.com --limit 20 --desc`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}

			req.JID = args[0]
			list, err := a.slots.ListForJID(req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if list.Count == 0 {
				fmt.Fprintln(out, styleWarning.Render("Слоты не найдены: "+args[0]))
				return nil
			}

			fmt.Fprintln(out, styleTitle.Render("Слоты "+args[0]))
			renderTable(out, []string{"ID", "Файл", "Размер", "Состояние", "Отправитель", "Получатель", "Создан"}, slotRows(list.Items))
			if list.HasMore {
				fmt.Fprintln(out, styleMuted.Render(fmt.Sprintf("Показано %d из %d, используйте --offset", len(list.Items), list.Count)))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&req.Limit, "limit", 0, "максимум слотов (0 — без ограничения)")
	cmd.Flags().IntVar(&req.Offset, "offset", 0, "пропустить первые N слотов")
	cmd.Flags().BoolVar(&req.Descending, "desc", false, "сначала новые")
	return cmd
}

func slotRows(items []service.ListItem) [][]string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		name, err := url.PathUnescape(item.FileInfo.Filename)
		if err != nil {
			name = item.FileInfo.Filename
		}
		rows = append(rows, []string{
			item.ID,
			name,
			humanSize(item.FileInfo.Filesize),
			string(item.State),
			item.SenderJID,
			item.RecipientJID,
			time.Unix(item.SentTime, 0).UTC().Format(time.DateTime),
		})
	}
	return rows
}
