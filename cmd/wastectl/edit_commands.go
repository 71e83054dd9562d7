package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"wastedraft/internal/orchestrator"
	"wastedraft/internal/portalclient"
	"wastedraft/internal/record"
	"wastedraft/internal/staging"
)

type editOptions struct {
	draftID        string
	valuesPath     string
	attach         []string
	replace        []string
	remove         []string
	move           []string
	maxPerCategory int
}

func newSaveCommand(ctx *commandContext) *cobra.Command {
	opts := &editOptions{}
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Save a draft without submitting it for review",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(cmd, ctx, opts, false)
		},
	}
	bindEditFlags(cmd, opts)
	return cmd
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	opts := &editOptions{}
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Save a record and submit it for review",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(cmd, ctx, opts, true)
		},
	}
	bindEditFlags(cmd, opts)
	return cmd
}

func bindEditFlags(cmd *cobra.Command, opts *editOptions) {
	flags := cmd.Flags()
	flags.StringVar(&opts.draftID, "draft", "", "Existing draft to edit (omit to create a new one)")
	flags.StringVarP(&opts.valuesPath, "values", "f", "", "YAML file with form values (- for stdin)")
	flags.StringArrayVar(&opts.attach, "attach", nil, "Attach a file: category=path (repeatable)")
	flags.StringArrayVar(&opts.replace, "replace", nil, "Replace an attachment: file-id=path (repeatable)")
	flags.StringArrayVar(&opts.remove, "remove", nil, "Remove an attachment by id (repeatable)")
	flags.StringArrayVar(&opts.move, "move", nil, "Move an attachment: category:from:to, 1-based (repeatable)")
	flags.IntVar(&opts.maxPerCategory, "max-per-category", 10, "Capacity of categories not known to the form")
}

func runEdit(cmd *cobra.Command, ctx *commandContext, opts *editOptions, submit bool) error {
	attaches := make([]attachSpec, 0, len(opts.attach))
	for _, raw := range opts.attach {
		parsed, err := parseAttach(raw)
		if err != nil {
			return err
		}
		attaches = append(attaches, parsed)
	}
	replaces := make([]replaceSpec, 0, len(opts.replace))
	for _, raw := range opts.replace {
		parsed, err := parseReplace(raw)
		if err != nil {
			return err
		}
		replaces = append(replaces, parsed)
	}
	moves := make([]moveSpec, 0, len(opts.move))
	for _, raw := range opts.move {
		parsed, err := parseMove(raw)
		if err != nil {
			return err
		}
		moves = append(moves, parsed)
	}

	client, err := ctx.client()
	if err != nil {
		return err
	}
	logger := ctx.log()
	reqCtx := cmd.Context()
	if reqCtx == nil {
		reqCtx = context.Background()
	}

	var loaded *portalclient.Draft
	if opts.draftID != "" {
		loaded, err = client.GetDraft(reqCtx, opts.draftID)
		if err != nil {
			return fmt.Errorf("load draft %s: %w", opts.draftID, err)
		}
	}

	extra := make([]string, 0, len(attaches)+len(moves))
	for _, a := range attaches {
		extra = append(extra, a.Category)
	}
	for _, m := range moves {
		extra = append(extra, m.Category)
	}
	if loaded != nil {
		for _, att := range loaded.Attachments {
			extra = append(extra, att.Category)
		}
	}
	caps := groupCapacities(opts.maxPerCategory, extra...)
	groups := newGroups(caps, client, logger.Named("staging"))

	var session *orchestrator.Session
	var form record.Form
	if loaded != nil {
		session = orchestrator.NewEditSession(loaded.Loaded(), groups...)
		form, _ = session.Snapshot()
	} else {
		session = orchestrator.NewCreateSession(groups...)
	}
	defer session.Close()

	if opts.valuesPath != "" {
		form, err = overlayValues(cmd.InOrStdin(), opts.valuesPath, form)
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()

	for _, id := range opts.remove {
		g := groupHolding(session, id)
		if g == nil {
			return fmt.Errorf("remove %s: no such attachment", id)
		}
		if err := g.RemoveFile(reqCtx, id); err != nil {
			return fmt.Errorf("remove %s: %w", id, err)
		}
	}

	if len(replaces) > 0 {
		paths := make([]string, len(replaces))
		for i, r := range replaces {
			paths[i] = r.Path
		}
		files, err := loadLocalFiles(reqCtx, paths)
		if err != nil {
			return err
		}
		for i, r := range replaces {
			g := groupHolding(session, r.FileID)
			if g == nil {
				return fmt.Errorf("replace %s: no such attachment", r.FileID)
			}
			if err := g.ReplaceFile(r.FileID, files[i]); err != nil {
				return fmt.Errorf("replace %s: %w", r.FileID, err)
			}
		}
	}

	if len(attaches) > 0 {
		paths := make([]string, len(attaches))
		for i, a := range attaches {
			paths[i] = a.Path
		}
		files, err := loadLocalFiles(reqCtx, paths)
		if err != nil {
			return err
		}
		byCategory := make(map[string][]staging.LocalFile)
		var order []string
		for i, a := range attaches {
			if _, seen := byCategory[a.Category]; !seen {
				order = append(order, a.Category)
			}
			byCategory[a.Category] = append(byCategory[a.Category], files[i])
		}
		for _, category := range order {
			_, err := session.Group(category).AddFiles(byCategory[category])
			if err != nil {
				if !errors.Is(err, staging.ErrCapacityExceeded) && !errors.Is(err, staging.ErrInvalidFile) {
					return err
				}
				fmt.Fprintf(errOut, "warning: %s: %v\n", category, err)
			}
		}
	}

	for _, m := range moves {
		g := session.Group(m.Category)
		if g == nil {
			return fmt.Errorf("move: unknown category %q", m.Category)
		}
		if err := g.ReorderFiles(m.From-1, m.To-1); err != nil {
			return fmt.Errorf("move %s %d->%d: %w", m.Category, m.From, m.To, err)
		}
	}

	orch := orchestrator.New(client,
		orchestrator.WithLogger(logger.Named("orchestrator")),
		orchestrator.WithNavigator(printNavigator{w: out}),
	)

	var result orchestrator.Result
	if submit {
		result, err = orch.SubmitRecord(reqCtx, session, form)
	} else {
		result, err = orch.SaveDraft(reqCtx, session, form)
	}
	if err != nil {
		if result.DraftID != "" {
			fmt.Fprintf(errOut, "draft %s kept; rerun with --draft %s to retry\n", result.DraftID, result.DraftID)
		}
		return err
	}

	printResult(out, result)
	if len(result.FileFailures) > 0 {
		return fmt.Errorf("%d attachment operation(s) failed", len(result.FileFailures))
	}
	return nil
}

// overlayValues decodes the YAML document at path over base. Keys that are
// absent keep their base value; unknown keys are an error.
func overlayValues(stdin io.Reader, path string, base record.Form) (record.Form, error) {
	var r io.Reader
	if path == "-" {
		r = stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return base, fmt.Errorf("open values: %w", err)
		}
		defer f.Close()
		r = f
	}

	form := base
	if base.CollectedVolumeKg != nil {
		v := *base.CollectedVolumeKg
		form.CollectedVolumeKg = &v
	}
	if base.RecycledVolumeKg != nil {
		v := *base.RecycledVolumeKg
		form.RecycledVolumeKg = &v
	}
	if base.Latitude != nil {
		v := *base.Latitude
		form.Latitude = &v
	}
	if base.Longitude != nil {
		v := *base.Longitude
		form.Longitude = &v
	}
	if base.StorageLocation != nil {
		loc := *base.StorageLocation
		form.StorageLocation = &loc
	}

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&form); err != nil {
		if errors.Is(err, io.EOF) {
			return base, nil
		}
		return base, fmt.Errorf("decode values %s: %w", path, err)
	}
	return form, nil
}

func groupHolding(s *orchestrator.Session, fileID string) *staging.Manager {
	for _, g := range s.Groups() {
		for _, f := range g.Files() {
			if f.ID == fileID {
				return g
			}
		}
	}
	return nil
}

type printNavigator struct {
	w io.Writer
}

func (n printNavigator) NavigateAway(draftID string) {
	fmt.Fprintf(n.w, "done with %s\n", draftID)
}

func printResult(w io.Writer, r orchestrator.Result) {
	fmt.Fprintf(w, "%s: %s\n", r.DraftID, r.Outcome)
	if r.Message != "" {
		fmt.Fprintln(w, r.Message)
	}
	for _, f := range r.FileFailures {
		fmt.Fprintf(w, "  failed: %s\n", f.String())
	}
}
