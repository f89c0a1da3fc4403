// Command agent runs the workspace tool execution engine as a JSONL
// service: one tool call per stdin line, one observation per stdout
// line. The host application (or a developer with a terminal) drives it.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"inkdesk/internal/adapter/tool"
	"inkdesk/internal/canvas"
	"inkdesk/internal/domain"
	"inkdesk/internal/infra/config"
	"inkdesk/internal/infra/logger"
	"inkdesk/internal/infra/tracer"
	"inkdesk/internal/security"
	"inkdesk/internal/usecase"
	"inkdesk/internal/usecase/eventbus"
)

func main() {
	configPath := flag.String("config", "inkdesk.yaml", "path to the config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "agent:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	resolver, err := security.NewResolver(cfg.Workspace.Root)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(resolver.Root(), domain.ConfigDir), 0o755); err != nil {
		return fmt.Errorf("ensure config dir: %w", err)
	}

	bus := eventbus.New(log)
	defer bus.Close()

	locks := usecase.NewLockRegistry()

	queue, err := usecase.OpenTaskQueue(filepath.Join(resolver.Root(), domain.ConfigDir, "tasks.db"))
	if err != nil {
		return err
	}
	defer queue.Close()

	tb := &tool.Toolbox{
		Resolver: resolver,
		Locks:    locks,
		Bus:      bus,
		Editor:   canvas.NewEditor(),
		FS:       tool.NewLocalFilesystemBackend(),
		Platform: cfg.Workspace.Platform,
		Limits:   cfg.Tools,
	}
	tb.SetSettings(cfg.Workspace.Settings)
	tb.SetExportJobs(cfg.Export.Jobs)

	runner := usecase.NewExportRunner(resolver, log)
	scheduler := usecase.NewExportScheduler(runner, log)
	if err := scheduler.Reload(cfg.Export.Jobs); err != nil {
		log.Warn("export schedule incomplete", "error", err)
	}
	defer scheduler.Stop()

	var images tool.ImageSearchBackend
	if cfg.Tools.ImageSearchKey != "" {
		images, err = tool.NewBraveImageBackend(cfg.Tools.ImageSearchKey)
		if err != nil {
			return err
		}
	}

	dispatcher := tool.NewDispatcher(log)
	for _, reg := range []struct {
		name  string
		tools []domain.Tool
	}{
		{"files", tool.NewFileTools(tb, log)},
		{"canvas", tool.NewCanvasTools(tb, log)},
		{"net", tool.NewNetworkTools(tb, log, tool.NewDuckDuckGoBackend(), images)},
		{"publish", []domain.Tool{tool.NewPublishTool(tb, log, tool.NewPublishClient(cfg.Publish))}},
		{"config", tool.NewConfigTools(tb, log, runner, scheduler, queue)},
	} {
		if err := dispatcher.RegisterGroup(reg.name, reg.tools...); err != nil {
			return err
		}
	}

	agentID := uuid.NewString()
	log.Info("engine ready",
		"workspace", resolver.Root(),
		"platform", cfg.Workspace.Platform,
		"groups", dispatcher.Groups(),
		"agent_id", agentID)
	defer locks.UnlockAllForAgent(agentID)

	return serve(ctx, log, dispatcher, bus, agentID)
}

// wireCall is one stdin line: either a tool call or an event injection
// (the host forwarding UI events such as ask_user answers).
type wireCall struct {
	ID    string          `json:"id,omitempty"`
	Tool  string          `json:"tool,omitempty"`
	Args  json.RawMessage `json:"args,omitempty"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type wireResult struct {
	ID      string `json:"id,omitempty"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

type wireEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// stdoutWriter serializes JSONL writes; tool results and forwarded
// events come from different goroutines.
type stdoutWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (w *stdoutWriter) write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(v)
}

func serve(ctx context.Context, log *slog.Logger, dispatcher *tool.Dispatcher,
	bus domain.EventBus, agentID string,
) error {
	out := &stdoutWriter{enc: json.NewEncoder(os.Stdout)}

	// Forward engine events to the host so it can render locks,
	// overlays, and questions.
	unsub := bus.SubscribeAll(func(_ context.Context, ev domain.Event) {
		if err := out.write(wireEvent{Event: string(ev.Type), Data: ev.Payload}); err != nil {
			log.Warn("event write failed", "error", err)
		}
	})
	defer unsub()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 8<<20)

	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var call wireCall
		if err := json.Unmarshal(line, &call); err != nil {
			_ = out.write(wireResult{Content: "malformed call: " + err.Error(), IsError: true})
			continue
		}

		// Host-forwarded UI events loop back onto the bus, where a
		// blocked ask_user or tab switch is waiting for them.
		if call.Event != "" {
			tool.PublishToolEvent(ctx, bus, domain.EventType(call.Event), call.Data)
			continue
		}

		callCtx := domain.ContextWithAgentID(ctx, agentID)
		res := dispatcher.Execute(callCtx, call.Tool, call.Args)
		_ = out.write(wireResult{ID: call.ID, Content: res.Content, IsError: res.IsError})
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	log.Info("engine stopped")
	return nil
}
