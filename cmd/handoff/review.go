package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/carebridge-hub/backend/internal/application/services"
	"github.com/carebridge-hub/backend/internal/domain/entities"
	"github.com/carebridge-hub/backend/internal/review"
)

func reviewCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "review <session-id>",
		Short: "Show the extracted form and what still needs attention",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, store, err := openReviewService()
			if err != nil {
				return err
			}
			defer store.Close()

			rs, err := svc.Open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{
					"source":     rs.Source,
					"form":       rs.Store.Form(),
					"follow_ups": rs.FollowUps.List(),
					"pinned":     review.PinnedSegments(rs.Segments),
					"readiness":  rs.Readiness(),
				})
			}
			printReview(cmd.OutOrStdout(), rs)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the review as JSON")
	return cmd
}

func printReview(out io.Writer, rs *services.ReviewSession) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "session %s (from %s)\n\n", rs.SessionID, rs.Source)
	fmt.Fprintln(w, "FIELD\tSTATUS\tVALUE\tEVIDENCE")
	for _, name := range review.FieldOrder {
		view, ok := rs.Store.View(name)
		if !ok {
			continue
		}
		value := rs.Store.Value(name)
		if name == entities.FieldMedications {
			var meds []string
			for _, m := range rs.Store.Medications() {
				meds = append(meds, strings.TrimSpace(m.Name+" "+m.Dose+" "+m.Frequency))
			}
			value = strings.Join(meds, "; ")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, view.Status, value, strings.Join(view.EvidenceIDs, ","))
	}
	_ = w.Flush()

	if list := rs.FollowUps.List(); len(list) > 0 {
		fmt.Fprintln(out, "\nfollow-ups:")
		for _, q := range list {
			fmt.Fprintf(out, "  [%s] %s  %s\n", q.Status, q.ID, q.Question)
		}
	}

	form := rs.Store.Form()
	var staged []string
	for _, name := range review.FieldOrder {
		if value, ok := rs.Store.Pending(name); ok {
			staged = append(staged, fmt.Sprintf("  %s: %s (edit)", name, value))
		} else if meta := form.Text[name]; meta != nil && meta.SuggestedValue != nil {
			staged = append(staged, fmt.Sprintf("  %s: %s (suggested)", name, *meta.SuggestedValue))
		}
	}
	if len(staged) > 0 {
		fmt.Fprintln(out, "\nwaiting to be accepted:")
		fmt.Fprintln(out, strings.Join(staged, "\n"))
	}

	if pinned := review.PinnedSegments(rs.Segments); len(pinned) > 0 {
		fmt.Fprintln(out, "\npinned:")
		for _, seg := range pinned {
			fmt.Fprintf(out, "  %s %s: %s\n", seg.ID, seg.Speaker, seg.Text)
		}
	}

	readiness := rs.Readiness()
	fmt.Fprintf(out, "\n%d missing, %d uncertain\n", readiness.Attention.Missing, readiness.Attention.Uncertain)
	if next, ok := rs.Next(""); ok {
		fmt.Fprintf(out, "next field to review: %s\n", next)
	}
	if readiness.Ready() {
		fmt.Fprintln(out, "ready to approve")
	} else {
		fmt.Fprintf(out, "blocked by %d required fields and %d follow-ups\n",
			len(readiness.MissingRequired), len(readiness.UnresolvedFollowUps))
	}
}

func setCmd() *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "set <session-id> <field> <value>",
		Short: "Set a form field and save the draft",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, store, err := openReviewService()
			if err != nil {
				return err
			}
			defer store.Close()

			rs, err := svc.Open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			field := entities.FieldName(args[1])
			if confirm {
				err = rs.Store.Confirm(field, args[2])
			} else {
				err = rs.Store.SetValue(field, args[2])
			}
			if err != nil {
				return err
			}
			if err := svc.SaveDraft(cmd.Context(), rs); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %q (%s)\n", field, rs.Store.Value(field), rs.Store.Form().Status(field))
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "mark the value as confirmed")
	return cmd
}

func answerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "answer <session-id> <question-id> <answer>",
		Short: "Answer a follow-up question and save the draft",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, store, err := openReviewService()
			if err != nil {
				return err
			}
			defer store.Close()

			rs, err := svc.Open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := rs.FollowUps.Answer(args[1], args[2], rs.Store); err != nil {
				return err
			}
			if err := svc.SaveDraft(cmd.Context(), rs); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d follow-ups unresolved\n", rs.FollowUps.Unresolved())
			return nil
		},
	}
}

func askCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <session-id> <question-id>",
		Short: "Mark a follow-up question as asked, reopening it if answered",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, store, err := openReviewService()
			if err != nil {
				return err
			}
			defer store.Close()

			rs, err := svc.Open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := rs.FollowUps.MarkAsked(args[1]); err != nil {
				return err
			}
			if err := svc.SaveDraft(cmd.Context(), rs); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s marked asked\n", args[1])
			return nil
		},
	}
}

func editCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <session-id> <field> <value>",
		Short: "Stage a value for a field without committing it",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, store, err := openReviewService()
			if err != nil {
				return err
			}
			defer store.Close()

			rs, err := svc.Open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			field := entities.FieldName(args[1])
			if err := rs.Store.Edit(field, args[2]); err != nil {
				return err
			}
			if err := svc.SaveState(cmd.Context(), rs); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s staged as %q, run accept to commit\n", field, args[2])
			return nil
		},
	}
}

func acceptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept <session-id> <field>",
		Short: "Confirm a field's staged edit or suggested value and save the draft",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, store, err := openReviewService()
			if err != nil {
				return err
			}
			defer store.Close()

			rs, err := svc.Open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			field := entities.FieldName(args[1])
			if !hasPending(rs.Store, field) {
				if err := rs.Store.AcceptSuggestion(field); err != nil {
					return err
				}
			}
			if err := rs.Store.ConfirmPending(field); err != nil {
				return err
			}
			if err := svc.SaveDraft(cmd.Context(), rs); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %q (%s)\n", field, rs.Store.Value(field), rs.Store.Form().Status(field))
			return nil
		},
	}
}

func hasPending(store *review.FormStore, field entities.FieldName) bool {
	if field == entities.FieldMedications {
		_, ok := store.PendingMedications()
		return ok
	}
	_, ok := store.Pending(field)
	return ok
}

func nextCmd() *cobra.Command {
	var after string
	cmd := &cobra.Command{
		Use:   "next <session-id>",
		Short: "Show the next field that needs attention",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, store, err := openReviewService()
			if err != nil {
				return err
			}
			defer store.Close()

			rs, err := svc.Open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			next, ok := rs.Next(entities.FieldName(after))
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing left to review")
				return nil
			}
			view, _ := rs.Store.View(next)
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", next, view.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&after, "after", "", "skip ahead past this field")
	return cmd
}

func pinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pin <session-id> <segment-id>",
		Short: "Pin or unpin a transcript segment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, store, err := openReviewService()
			if err != nil {
				return err
			}
			defer store.Close()

			rs, err := svc.Open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !review.TogglePin(rs.Segments, args[1]) {
				return fmt.Errorf("segment %s not found", args[1])
			}
			if err := svc.SaveState(cmd.Context(), rs); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d segments pinned\n", len(review.PinnedSegments(rs.Segments)))
			return nil
		},
	}
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <session-id>",
		Short: "Drop pins, suggestions and staged edits and show the saved review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, store, err := openReviewService()
			if err != nil {
				return err
			}
			defer store.Close()

			rs, err := svc.Reset(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printReview(cmd.OutOrStdout(), rs)
			return nil
		},
	}
}

func approveCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "approve <session-id>",
		Short: "Approve and finalize a reviewed handoff",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, store, err := openReviewService()
			if err != nil {
				return err
			}
			defer store.Close()

			rs, err := svc.Open(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			var confirmer review.Confirmer = promptConfirmer(cmd.InOrStdin(), cmd.OutOrStdout())
			if yes {
				confirmer = review.ConfirmerFunc(func(context.Context, string, review.Readiness) (bool, error) {
					return true, nil
				})
			}

			err = svc.Approve(cmd.Context(), rs, confirmer)
			switch {
			case errors.Is(err, review.ErrNotReady):
				printReview(cmd.OutOrStdout(), rs)
				return err
			case errors.Is(err, review.ErrApprovalDeclined):
				fmt.Fprintln(cmd.OutOrStdout(), "approval cancelled")
				return nil
			case err != nil:
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s approved\n", rs.SessionID)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "approve without asking")
	return cmd
}

func promptConfirmer(in io.Reader, out io.Writer) review.ConfirmerFunc {
	return func(_ context.Context, sessionID string, readiness review.Readiness) (bool, error) {
		if n := readiness.Attention.Uncertain; n > 0 {
			fmt.Fprintf(out, "%d fields are still uncertain.\n", n)
		}
		fmt.Fprintf(out, "Approve handoff %s? This cannot be undone [y/N]: ", sessionID)
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, err
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes", nil
	}
}
