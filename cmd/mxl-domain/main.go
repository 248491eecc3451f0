// Command mxl-domain is a small inspector and exerciser for a domain
// directory: create a flow from a descriptor file, list or destroy
// flows, or watch one for grain/sample commits.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/mlefebvre1/mxl/descriptor"
	"github.com/mlefebvre1/mxl/domain"
	"github.com/mlefebvre1/mxl/flowid"
	"github.com/mlefebvre1/mxl/mxlerrors"
)

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	dir := envOr("MXL_DOMAIN", ".")
	inst, err := domain.CreateInstance(dir, domain.Options{HistoryDuration: historyDurationOr(time.Second)}, slog.Default())
	if err != nil {
		slog.Error("failed to open domain", "dir", dir, "error", err)
		os.Exit(1)
	}
	defer inst.DestroyInstance()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	var cmdErr error
	switch os.Args[1] {
	case "create":
		cmdErr = runCreate(inst, os.Args[2:])
	case "destroy":
		cmdErr = runDestroy(inst, os.Args[2:])
	case "list":
		cmdErr = runList(dir)
	case "watch":
		cmdErr = runWatch(ctx, inst, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if cmdErr != nil {
		slog.Error("command failed", "error", cmdErr, "status", mxlerrors.StatusOf(cmdErr))
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: mxl-domain <create|destroy|list|watch> [args]")
	fmt.Fprintln(os.Stderr, "  create <descriptor.json>")
	fmt.Fprintln(os.Stderr, "  destroy <flow-id>")
	fmt.Fprintln(os.Stderr, "  list")
	fmt.Fprintln(os.Stderr, "  watch <flow-id>")
	fmt.Fprintln(os.Stderr, "env: MXL_DOMAIN (domain directory, default \".\"), MXL_HISTORY_MS")
}

func runCreate(inst *domain.Instance, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("create requires a descriptor path")
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	desc, err := descriptor.Parse(raw)
	if err != nil {
		return err
	}
	if _, err := inst.CreateFlow(raw, desc, domain.FlowOptions{}); err != nil {
		return err
	}
	slog.Info("flow created", "id", desc.Common().ID.String(), "kind", desc.Kind().String())
	return nil
}

func runDestroy(inst *domain.Instance, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("destroy requires a flow id")
	}
	id, err := flowid.Parse(args[0])
	if err != nil {
		return err
	}
	return inst.DestroyFlow(id)
}

func runList(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := flowid.Parse(e.Name()); err != nil {
			continue
		}
		fmt.Println(e.Name())
	}
	return nil
}

func runWatch(ctx context.Context, inst *domain.Instance, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("watch requires a flow id")
	}
	id, err := flowid.Parse(args[0])
	if err != nil {
		return err
	}

	reader, err := inst.OpenReader(id)
	if err != nil {
		return err
	}
	defer reader.Close()

	var buf [4096]byte
	n, _, err := inst.GetFlowDef(id, buf[:])
	if err != nil {
		return err
	}
	var envelope struct {
		Format string `json:"format"`
	}
	json.Unmarshal(buf[:n], &envelope)

	var index uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if envelope.Format == "urn:x-nmos:format:audio" {
			slices, err := reader.GetSamples(index, 1, time.Second)
			if err != nil {
				if mxlerrors.StatusOf(err) == mxlerrors.FlowInvalid {
					return err
				}
				continue
			}
			slog.Info("samples available", "lastIndex", index, "fragments", len(slices))
			index++
			continue
		}

		view, err := reader.GetGrain(index, time.Second)
		if err != nil {
			if mxlerrors.StatusOf(err) == mxlerrors.FlowInvalid {
				return err
			}
			continue
		}
		slog.Info("grain committed", "index", view.Index, "validSlices", view.ValidSlices, "totalSlices", view.TotalSlices)
		index++
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func historyDurationOr(fallback time.Duration) time.Duration {
	v := os.Getenv("MXL_HISTORY_MS")
	if v == "" {
		return fallback
	}
	var ms int64
	if _, err := fmt.Sscanf(v, "%d", &ms); err != nil {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
