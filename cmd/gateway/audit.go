package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"go.uber.org/zap"

	"github.com/nao1215/foodgate/internal/audit"
	"github.com/nao1215/foodgate/internal/config"
)

// runAuditCommand は audit サブコマンドを実行する。
func runAuditCommand(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	limit := fs.Int("n", 20, "表示する件数")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if cfg.Audit.DSN == "" {
		return errors.New("audit.dsn が設定されていません（AUDIT_DSN で指定できます）")
	}

	store, err := audit.Open(ctx, cfg.Audit.DSN, zap.NewNop())
	if err != nil {
		return err
	}
	defer store.Close()

	return printAudit(ctx, store, *limit, os.Stdout)
}

// printAudit は結果ごとの件数と直近の判断をwに書き出す。
func printAudit(ctx context.Context, store *audit.Store, limit int, w io.Writer) error {
	counts, err := store.CountByOutcome(ctx)
	if err != nil {
		return err
	}
	entries, err := store.Recent(ctx, limit)
	if err != nil {
		return err
	}

	outcomes := make([]string, 0, len(counts))
	for o := range counts {
		outcomes = append(outcomes, o)
	}
	sort.Strings(outcomes)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OUTCOME\tCOUNT")
	for _, o := range outcomes {
		fmt.Fprintf(tw, "%s\t%d\n", o, counts[o])
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "TIME\tMETHOD\tPATH\tROUTE\tREQUIREMENT\tOUTCOME\tREQUEST_ID")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			e.Method, e.Path, dash(e.RouteID), dash(e.Requirement), e.Outcome, e.RequestID)
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
