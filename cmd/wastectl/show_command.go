package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"wastedraft/internal/portalclient"
	"wastedraft/internal/record"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <draft-id>",
		Short: "Show a record with its attachments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			d, err := client.GetDraft(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(d)
			}
			printDraft(out, d)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw record as JSON")
	return cmd
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records visible to the caller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := make([]record.Status, 0, len(statuses))
			for _, s := range statuses {
				st := record.Status(s)
				if !st.Valid() {
					return fmt.Errorf("unknown status %q", s)
				}
				filter = append(filter, st)
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			drafts, err := client.ListDrafts(cmd.Context(), limit, filter...)
			if err != nil {
				return err
			}
			if len(drafts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No records found.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderDraftList(drafts))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Only records in these statuses")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of records")
	return cmd
}

func printDraft(w io.Writer, d *portalclient.Draft) {
	fmt.Fprintf(w, "Record %s (%s)\n", d.ID, d.Status)
	if d.RejectionReason != nil && *d.RejectionReason != "" {
		fmt.Fprintf(w, "Rejected: %s\n", *d.RejectionReason)
	}
	fmt.Fprintln(w, renderFields(d.Form))

	if len(d.Attachments) == 0 {
		fmt.Fprintln(w, "No attachments.")
		return
	}
	fmt.Fprintln(w, renderAttachments(d))
}

func renderFields(f record.Form) string {
	payload := record.FullPayload(f)
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, formatValue(payload[k])})
	}
	return renderTable([]string{"Field", "Value"}, rows, []columnAlignment{alignLeft, alignLeft})
}

func renderAttachments(d *portalclient.Draft) string {
	atts := append(d.Attachments[:0:0], d.Attachments...)
	sort.SliceStable(atts, func(i, j int) bool {
		if atts[i].Category != atts[j].Category {
			return atts[i].Category < atts[j].Category
		}
		return atts[i].Position < atts[j].Position
	})

	rows := make([][]string, 0, len(atts))
	for _, a := range atts {
		rows = append(rows, []string{
			a.Category,
			strconv.Itoa(a.Position),
			a.ID,
			a.Name,
			a.MimeType,
			strconv.FormatInt(a.SizeBytes, 10),
		})
	}
	return renderTable(
		[]string{"Category", "#", "ID", "Name", "Type", "Bytes"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignLeft, alignRight},
	)
}

func renderDraftList(drafts []portalclient.Draft) string {
	rows := make([][]string, 0, len(drafts))
	for _, d := range drafts {
		plate := d.VehiclePlate
		if plate == "" {
			plate = "-"
		}
		rows = append(rows, []string{d.ID, string(d.Status), plate, d.OwnerID, formatTime(d.UpdatedAt)})
	}
	return renderTable([]string{"ID", "Status", "Plate", "Owner", "Updated"}, rows, nil)
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "-"
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case *record.Location:
		if x == nil {
			return "-"
		}
		if x.Label != "" {
			return fmt.Sprintf("%s (%s)", x.Label, x.PlaceID)
		}
		return x.PlaceID
	default:
		return fmt.Sprint(x)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
