// Package repl implements the line-oriented ThalamusDB shell: it buffers
// input until a statement terminates with ';', dispatches DDL/COPY
// passthrough to the underlying engine, and runs SELECT statements
// through the bounded-evaluation engine, printing elapsed time and the
// accumulated cost counters.
package repl

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/thalamusdb/thalamusdb/internal/engine"
	"github.com/thalamusdb/thalamusdb/internal/llmclient"
	"github.com/thalamusdb/thalamusdb/internal/query"
	"github.com/thalamusdb/thalamusdb/internal/store"
	"github.com/thalamusdb/thalamusdb/internal/tlog"
)

// ExitQuit is the literal shell command that ends the session.
const ExitQuit = `\q`

// Shell is the interactive console driving one store.Engine.
type Shell struct {
	Store       *store.Engine
	Classifier  llmclient.Classifier
	Constraints engine.Constraints
	BatchSize   int
	Logger      tlog.Logger
	Out         io.Writer
}

// Run drives the shell until \q or EOF, reading lines with readline for
// history and line editing. It returns a process exit code: 0 on normal
// exit, non-zero if an unrecoverable error terminates the session.
func (s *Shell) Run(ctx context.Context) int {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "thalamusdb> ",
		HistoryFile:     "",
		InterruptPrompt: "^C",
		EOFPrompt:       ExitQuit,
	})
	if err != nil {
		fmt.Fprintf(s.Out, "failed to start shell: %v\n", err)
		return 1
	}
	defer rl.Close()

	var buffer strings.Builder
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return 0
		}
		if err != nil {
			fmt.Fprintf(s.Out, "read error: %v\n", err)
			return 1
		}

		trimmed := strings.TrimSpace(line)
		if strings.EqualFold(trimmed, ExitQuit) {
			return 0
		}
		if trimmed == "" {
			continue
		}

		buffer.WriteString(line)
		buffer.WriteString(" ")

		stmt := strings.TrimSpace(buffer.String())
		if !strings.HasSuffix(stmt, ";") {
			continue
		}
		buffer.Reset()

		if err := s.execute(ctx, stmt); err != nil {
			fmt.Fprintf(s.Out, "error: %v\n", err)
		}
	}
}

// execute dispatches one semicolon-terminated statement: DDL/COPY/ALTER
// pass straight through to the underlying engine; SELECT goes through
// the bounded-evaluation engine; anything else is an invalid-query error.
func (s *Shell) execute(ctx context.Context, stmt string) error {
	upper := strings.ToUpper(stmt)
	switch {
	case strings.HasPrefix(upper, "CREATE TABLE"),
		strings.HasPrefix(upper, "COPY "),
		strings.HasPrefix(upper, "ALTER TABLE"),
		strings.HasPrefix(upper, "DROP TABLE"),
		strings.HasPrefix(upper, "INSERT "):
		return s.Store.Exec(ctx, strings.TrimSuffix(stmt, ";"))
	case strings.HasPrefix(upper, "SELECT"):
		return s.runSelect(ctx, strings.TrimSuffix(stmt, ";"))
	default:
		return fmt.Errorf("invalid query: %s", stmt)
	}
}

func (s *Shell) runSelect(ctx context.Context, sql string) error {
	start := time.Now()

	q, err := query.Parse(ctx, s.Store, sql)
	if err != nil {
		return err
	}

	result, err := engine.Run(ctx, s.Store, s.Classifier, q, s.Constraints, s.BatchSize, s.Logger)
	if err != nil {
		return err
	}

	printResult(s.Out, result)
	fmt.Fprintf(s.Out, "Query executed in %.2f seconds.\n", time.Since(start).Seconds())
	fmt.Fprintf(s.Out, "#LLM Calls: %d\n", result.Counters.LLMCalls)
	fmt.Fprintf(s.Out, "#Input Tokens: %d\n", result.Counters.InputTokens)
	fmt.Fprintf(s.Out, "#Output Tokens: %d\n", result.Counters.OutputTokens)
	if result.BudgetExhausted {
		fmt.Fprintln(s.Out, "(terminated: budget exhausted before bounds fully converged)")
	}
	return nil
}

func printResult(w io.Writer, result *engine.Result) {
	if len(result.BestGuessColumns) > 0 {
		fmt.Fprintln(w, strings.Join(result.BestGuessColumns, "\t"))
	}
	for _, row := range result.BestGuessRows {
		cells := make([]string, len(result.BestGuessColumns))
		for i, col := range result.BestGuessColumns {
			cells[i] = fmt.Sprintf("%v", row[col])
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	if result.Bounds.IsAggregate {
		fmt.Fprintf(w, "Bounds: lower=%v upper=%v\n", result.Bounds.Aggregate.Lower, result.Bounds.Aggregate.Upper)
	} else {
		fmt.Fprintf(w, "Bounds: certain=%d possible=%d\n", result.Bounds.Retrieval.LowerCardinality, result.Bounds.Retrieval.UpperCardinality)
	}
	fmt.Fprintf(w, "Error: %v\n", result.Bounds.Error)
}
