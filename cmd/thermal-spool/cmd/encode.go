package cmd

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orrn/thermal-spool/internal/config"
	"github.com/orrn/thermal-spool/internal/core"
)

func readJobFile(path string) (*core.JobRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}
	var req core.JobRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse job file: %w", err)
	}
	if len(req.Items) == 0 {
		return nil, errors.New("job file has no items")
	}
	return &req, nil
}

// encodeJob renders the request with the configured encoder. Degraded items are
// logged and still produce output.
func encodeJob(cfg *config.Config, log *zap.Logger, req *core.JobRequest) ([][]byte, error) {
	items, err := core.NewJobManager(nil, nil, cfg.Printers.DotWidth, log).BuildItems(req.Items)
	if err != nil {
		return nil, err
	}
	chunks, err := newEncoder(cfg, log).Generate(items)
	if err != nil {
		log.Warn("some items could not be encoded", zap.Error(err))
	}
	return chunks, nil
}

func encodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode a job file to raw ESC/POS bytes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			out, _ := cmd.Flags().GetString("out")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer log.Sync()

			req, err := readJobFile(file)
			if err != nil {
				return err
			}
			chunks, err := encodeJob(cfg, log, req)
			if err != nil {
				return err
			}
			data := core.Flatten(chunks)

			if out == "" {
				fmt.Fprint(cmd.OutOrStdout(), hex.Dump(data))
				return nil
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", len(data), out)
			return nil
		},
	}

	cmd.Flags().StringP("file", "f", "", "job request JSON file")
	cmd.Flags().StringP("out", "o", "", "write raw bytes here instead of a hex dump")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func printCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "print",
		Short: "Encode a job file and send it straight to a printer, bypassing the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			printer, _ := cmd.Flags().GetString("printer")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer log.Sync()

			req, err := readJobFile(file)
			if err != nil {
				return err
			}
			if printer == "" {
				printer = req.Printer
			}
			endpoint, err := core.ParseEndpoint(printer)
			if err != nil {
				return err
			}
			if endpoint.IsInternal() {
				return core.ErrInternalUnavailable
			}

			chunks, err := encodeJob(cfg, log, req)
			if err != nil {
				return err
			}

			conn := core.NewConnectionManager(connectionOptions(cfg), log)
			if err := conn.Connect(context.Background(), endpoint); err != nil {
				return err
			}
			defer conn.Disconnect()

			n, err := conn.Send(chunks)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %d bytes to %s\n", n, endpoint)
			return nil
		},
	}

	cmd.Flags().StringP("file", "f", "", "job request JSON file")
	cmd.Flags().String("printer", "", "target host[:port], defaults to the job's printer field")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
