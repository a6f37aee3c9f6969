package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ehr/ocbridge/internal/domain/study"
)

func studiesCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "studies",
		Short: "List the studies and sites visible to the configured user",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, client, err := loadRemote()
			if err != nil {
				return err
			}
			return listStudies(cmd.Context(), client, cmd.OutOrStdout(), format)
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", "table", "output format: table, json or yaml")

	var show showOptions
	showCmd := &cobra.Command{
		Use:   "show <identifier>",
		Short: "Show one study or site with its event definitions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, client, err := loadRemote()
			if err != nil {
				return err
			}
			return showStudy(cmd.Context(), client, cmd.OutOrStdout(), args[0], show)
		},
	}
	showCmd.Flags().BoolVar(&show.byOID, "oid", false, "treat the identifier as an OID")
	showCmd.Flags().BoolVar(&show.subjects, "subjects", false, "also list enrolled subjects and their events")
	showCmd.Flags().BoolVar(&show.metadata, "metadata", false, "print the study metadata ODM instead")
	cmd.AddCommand(showCmd)

	var check subjectOptions
	subjectCmd := &cobra.Command{
		Use:   "subject <study> <subject>",
		Short: "Check that a subject is enrolled and, optionally, has an event scheduled",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, client, err := loadRemote()
			if err != nil {
				return err
			}
			return checkSubject(cmd.Context(), client, cmd.OutOrStdout(), args[0], args[1], check)
		},
	}
	subjectCmd.Flags().BoolVar(&check.studyByOID, "oid", false, "treat the study identifier as an OID")
	subjectCmd.Flags().BoolVar(&check.subjectByOID, "subject-oid", false, "treat the subject as an OID instead of a label")
	subjectCmd.Flags().StringVar(&check.eventOID, "event", "", "event definition OID to look for")
	cmd.AddCommand(subjectCmd)

	return cmd
}

type showOptions struct {
	byOID    bool
	subjects bool
	metadata bool
}

type subjectOptions struct {
	studyByOID   bool
	subjectByOID bool
	eventOID     string
}

func listStudies(ctx context.Context, svc study.Service, out io.Writer, format string) error {
	switch format {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
	listing, err := svc.ListAllStudies(ctx)
	if err != nil {
		return err
	}

	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(listing)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(listing); err != nil {
			return err
		}
		return enc.Close()
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTIFIER\tOID\tNAME")
	for _, s := range listing.Studies {
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Identifier, s.OID, s.Name)
		for _, site := range s.Sites {
			fmt.Fprintf(w, "  %s\t%s\t%s\n", site.Identifier, site.OID, site.Name)
		}
	}
	return w.Flush()
}

func showStudy(ctx context.Context, svc study.Service, out io.Writer, identifier string, opts showOptions) error {
	st, err := svc.FindStudy(ctx, nil, identifier, opts.byOID)
	if err != nil {
		return err
	}
	if opts.metadata {
		md, err := svc.FetchStudyMetadata(ctx, st)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "%s\n", md)
		return err
	}
	if opts.subjects {
		err = svc.PopulateStudy(ctx, st)
	} else {
		st.Events, err = svc.FetchEventDefinitions(ctx, st)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s\nOID: %s\n", st.Key(), st.EffectiveOID())
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nEVENT OID\tNAME")
	for _, ev := range st.Events {
		fmt.Fprintf(w, "%s\t%s\n", ev.OID, ev.Name)
	}
	if opts.subjects {
		fmt.Fprintln(w, "\nSUBJECT\tSEX\tREGISTERED\tEVENTS")
		for _, sub := range st.Subjects {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", sub.Label, sub.Sex, sub.DateOfRegistration, len(sub.Events))
		}
	}
	return w.Flush()
}

// checkSubject verifies a subject's enrollment and prints its label and
// OID, plus whether the requested event is scheduled.
func checkSubject(ctx context.Context, svc study.Service, out io.Writer, studyIdent, handle string, opts subjectOptions) error {
	st, err := svc.FindStudy(ctx, nil, studyIdent, opts.studyByOID)
	if err != nil {
		return err
	}
	sub := study.NewStudySubject(st)
	if opts.subjectByOID {
		sub.OID = handle
	} else {
		sub.Label = handle
	}
	if err := svc.VerifySubjectInStudy(ctx, sub); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s\nlabel: %s\noid: %s\n", st.Key(), sub.Label, sub.OID)

	if opts.eventOID == "" {
		return nil
	}
	has, err := svc.SubjectHasEvent(ctx, sub, opts.eventOID)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "event %s scheduled: %t\n", opts.eventOID, has)
	return err
}
