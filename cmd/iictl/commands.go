package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"invidx/ii"
	"invidx/internal/bulk"
	"invidx/internal/query"
)

func newCreateCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new, empty index column",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("path")
			withSection, _ := cmd.Flags().GetBool("with-section")
			withWeight, _ := cmd.Flags().GetBool("with-weight")
			withPosition, _ := cmd.Flags().GetBool("with-position")

			lex, _ := openLexicon(path)
			idx, err := ii.Create(path, ii.Flags{
				WithSection:  withSection,
				WithWeight:   withWeight,
				WithPosition: withPosition,
			}, ii.Config{Lexicon: lex, Tokenizer: wordTokenizer{}, Logger: logger})
			if err != nil {
				return fmt.Errorf("create: %w", err)
			}
			defer idx.Close()
			if err := saveLexicon(path, lex); err != nil {
				return fmt.Errorf("save lexicon: %w", err)
			}
			fmt.Printf("created %s\n", path)
			return nil
		},
	}
	cmd.Flags().Bool("with-section", true, "store section ids alongside each posting")
	cmd.Flags().Bool("with-weight", false, "store per-row weights")
	cmd.Flags().Bool("with-position", true, "store token positions (needed for EXACT/NEAR)")
	return cmd
}

func newUpdateCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Replace one row/section's indexed text",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("path")
			rid, _ := cmd.Flags().GetUint32("rid")
			sid, _ := cmd.Flags().GetUint32("sid")
			oldText, _ := cmd.Flags().GetString("old-text")
			newText, _ := cmd.Flags().GetString("new-text")
			weight, _ := cmd.Flags().GetUint32("weight")

			lex, err := openLexicon(path)
			if err != nil {
				return err
			}
			idx, err := ii.Open(path, ii.Config{Lexicon: lex, Tokenizer: wordTokenizer{}, Logger: logger})
			if err != nil {
				return fmt.Errorf("open: %w", err)
			}
			defer idx.Close()

			added, stats, err := idx.ColumnUpdate(rid, sid,
				ii.Value{Text: []byte(oldText)},
				ii.Value{Weight: weight, Text: []byte(newText)})
			if err != nil {
				return fmt.Errorf("column_update: %w", err)
			}
			if err := saveLexicon(path, lex); err != nil {
				return fmt.Errorf("save lexicon: %w", err)
			}
			fmt.Printf("rid=%d sid=%d: %d terms added, +%d -%d postings\n",
				rid, sid, len(added), stats.TermsAdded, stats.PostingsDiscarded)
			return nil
		},
	}
	cmd.Flags().Uint32("rid", 0, "record id (required)")
	cmd.Flags().Uint32("sid", 1, "section id")
	cmd.Flags().String("old-text", "", "previously indexed text for this row/section, if any")
	cmd.Flags().String("new-text", "", "text to index now")
	cmd.Flags().Uint32("weight", 0, "row weight")
	_ = cmd.MarkFlagRequired("rid")
	return cmd
}

func newBuildCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build <tsv-file>",
		Short: "Bulk-build from a rid\\tsid\\ttext TSV file (one posting set per line)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("path")
			lex, err := openLexicon(path)
			if err != nil {
				return err
			}
			idx, err := ii.Open(path, ii.Config{Lexicon: lex, Tokenizer: wordTokenizer{}, Logger: logger})
			if err != nil {
				return fmt.Errorf("open: %w", err)
			}
			defer idx.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			scanner := &tsvScanner{sc: bufio.NewScanner(f)}
			stats, err := idx.Build(scanner)
			if err != nil {
				return fmt.Errorf("build: %w", err)
			}
			if err := saveLexicon(path, lex); err != nil {
				return fmt.Errorf("save lexicon: %w", err)
			}
			fmt.Printf("built: %d rows, %d terms, %d blocks\n", stats.Rows, stats.Terms, stats.Blocks)
			return nil
		},
	}
	return cmd
}

func newSelectCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "select",
		Short: "Run a query against the index",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("path")
			queryText, _ := cmd.Flags().GetString("query")
			modeStr, _ := cmd.Flags().GetString("mode")
			opStr, _ := cmd.Flags().GetString("op")
			maxInterval, _ := cmd.Flags().GetUint32("max-interval")
			limit, _ := cmd.Flags().GetInt("limit")

			mode, err := parseMode(modeStr)
			if err != nil {
				return err
			}
			op, err := parseOp(opStr)
			if err != nil {
				return err
			}

			lex, err := openLexicon(path)
			if err != nil {
				return err
			}
			idx, err := ii.Open(path, ii.Config{Lexicon: lex, Tokenizer: wordTokenizer{}, Logger: logger})
			if err != nil {
				return fmt.Errorf("open: %w", err)
			}
			defer idx.Close()

			result, err := idx.Select(query.Args{
				Query:       []byte(queryText),
				Mode:        mode,
				Op:          op,
				MaxInterval: maxInterval,
				Limit:       limit,
			})
			if err != nil {
				return fmt.Errorf("select: %w", err)
			}

			rids := make([]uint32, 0, len(result))
			for rid := range result {
				rids = append(rids, rid)
			}
			sort.Slice(rids, func(i, j int) bool { return result[rids[i]] > result[rids[j]] })
			for _, rid := range rids {
				fmt.Printf("%d: %.4f\n", rid, result[rid])
			}
			return nil
		},
	}
	cmd.Flags().String("query", "", "query text (required)")
	cmd.Flags().String("mode", "exact", "exact, near, near2, similar, term_extract, unsplit, partial, prefix, suffix")
	cmd.Flags().String("op", "or", "or, and, and_not, adjust")
	cmd.Flags().Uint32("max-interval", 4, "NEAR/NEAR2 proximity window")
	cmd.Flags().Int("limit", 0, "SIMILAR: top-N tokens to union (0 = engine default)")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

func newStatsCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print chunk arena size and max section id",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("path")
			lex, err := openLexicon(path)
			if err != nil {
				return err
			}
			idx, err := ii.Open(path, ii.Config{Lexicon: lex, Tokenizer: wordTokenizer{}, Logger: logger})
			if err != nil {
				return fmt.Errorf("open: %w", err)
			}
			defer idx.Close()
			fmt.Printf("chunksize: %d\nmax_section: %d\n", idx.GetChunksize(), idx.MaxSection())
			return nil
		},
	}
}

// tsvScanner adapts a rid\tsid\ttext line-oriented file to bulk.Scanner, one
// row per line (a single section per row — enough for a CLI smoke-build;
// multi-section rows are better driven through the ii.BufferSession API).
type tsvScanner struct {
	sc *bufio.Scanner
}

func (s *tsvScanner) Next() (bulk.Row, bool, error) {
	for s.sc.Scan() {
		line := s.sc.Text()
		var rid, sid uint32
		var text string
		n, err := fmt.Sscanf(line, "%d\t%d\t%s", &rid, &sid, &text)
		if err != nil || n < 3 {
			continue
		}
		return bulk.Row{RID: rid, Sections: []bulk.Section{{SID: sid, Text: []byte(text)}}}, true, nil
	}
	if err := s.sc.Err(); err != nil {
		return bulk.Row{}, false, err
	}
	return bulk.Row{}, false, nil
}
