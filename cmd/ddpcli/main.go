// ddpcli connects to a DDP server, optionally logs in, subscribes to
// publications and calls a method, then prints collection contents as they
// change until interrupted. With --listen it also serves its metrics and
// state over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/ridge/ddp/ddp"
	"github.com/ridge/ddp/monitor"
	"github.com/ridge/ddp/run"
	"github.com/ridge/ddp/storage"
	"github.com/ridge/ddp/store"
	"github.com/ridge/ddp/thttp"
	"github.com/ridge/ddp/tlog"
	"github.com/ridge/ddp/tnet"
	"github.com/ridge/parallel"
	"github.com/segmentio/encoding/json"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

type options struct {
	url       string
	subs      []string
	call      string
	params    string
	user      string
	password  string
	tokenFile string
	heartbeat time.Duration
	listen    string
}

func main() {
	var o options
	pflag.StringVar(&o.url, "url", "ws://localhost:3000/websocket", "DDP endpoint")
	pflag.StringArrayVar(&o.subs, "sub", nil, "Subscribe to the publication and print its collection (repeatable)")
	pflag.StringVar(&o.call, "call", "", "Call the method and print the result")
	pflag.StringVar(&o.params, "params", "", "Method parameters, as a JSON array")
	pflag.StringVar(&o.user, "user", "", "Log in as this email or username")
	pflag.StringVar(&o.password, "password", "", "Password for --user")
	pflag.StringVar(&o.tokenFile, "token-file", "", "Keep the login token in this file")
	pflag.DurationVar(&o.heartbeat, "heartbeat", 0, "Ping the server this often and reconnect if it stops answering")
	pflag.StringVar(&o.listen, "listen", "", "Serve /metrics, /status and /collections/{name} on this address (tcp:host:port or unix:path)")
	pflag.Parse()

	run.Server(func(ctx context.Context) error {
		return runClient(ctx, o)
	})
}

func runClient(ctx context.Context, o options) error {
	var params []any
	if o.params != "" {
		if err := json.Unmarshal([]byte(o.params), &params); err != nil {
			return fmt.Errorf("invalid --params: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	logger := tlog.Get(ctx)
	config := ddp.Config{
		URL: o.url,
		Heartbeat: ddp.HeartbeatConfig{
			Interval:    o.heartbeat,
			RequirePong: o.heartbeat > 0,
		},
		Observer: ddp.Observer{
			Status: func(status ddp.Status) {
				logger.Info("Session status", zap.Stringer("status", status))
			},
			Error: func(err error) {
				logger.Warn("Server error", zap.Error(err))
			},
			SubscriptionRemoved: func(id, name string) {
				logger.Info("Subscription stopped by server", zap.String("name", name), zap.String("id", id))
			},
		},
		Registerer: registry,
	}

	var file *storage.File
	if o.tokenFile != "" {
		var err error
		file, err = storage.NewFile(o.tokenFile)
		if err != nil {
			return err
		}
		config.Storage = file
	}

	client := ddp.New(config)

	var server *thttp.Server
	if o.listen != "" {
		listener, err := tnet.Listen(o.listen)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", o.listen, err)
		}
		server = thttp.NewServer(listener, monitor.Handler(client, registry))
	}

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("client", parallel.Fail, client.Run)
		if server != nil {
			spawn("monitor", parallel.Fail, server.Run)
		}
		if file != nil {
			spawn("token-file", parallel.Fail, file.Run)
		}
		spawn("session", parallel.Exit, func(ctx context.Context) error {
			return session(ctx, client, o, params)
		})
		return nil
	})
}

func session(ctx context.Context, client *ddp.Client, o options, params []any) error {
	logger := tlog.Get(ctx)

	connected := make(chan string, 1)
	client.Connect(func(session string) { connected <- session })
	select {
	case <-ctx.Done():
		return ctx.Err()
	case session := <-connected:
		logger.Info("Connected", zap.String("session", session), zap.String("user", client.UserID()))
	}

	if o.user != "" && !client.IsLoggedIn() {
		loggedIn := make(chan error, 1)
		client.Login(o.user, o.password, func(_ json.RawMessage, err error) { loggedIn <- err })
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-loggedIn:
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			logger.Info("Logged in", zap.String("user", client.UserID()))
		}
	}

	for _, name := range o.subs {
		name := name
		collection := client.Collection(name)
		collection.OnChange(func(docs []store.Document) { printCollection(name, docs) })
		collection.Subscribe(nil, ddp.SubscribeOptions{
			OnReady: func(err error) {
				if err != nil {
					logger.Error("Subscription failed", zap.String("name", name), zap.Error(err))
					return
				}
				logger.Info("Subscription ready", zap.String("name", name), zap.Int("documents", collection.Count()))
			},
		})
	}

	if o.call != "" {
		result, err := client.CallSync(ctx, o.call, params)
		if err != nil {
			return fmt.Errorf("method %s failed: %w", o.call, err)
		}
		fmt.Fprintln(os.Stdout, string(result))
		if len(o.subs) == 0 {
			return nil
		}
	}

	<-ctx.Done()
	return ctx.Err()
}

func printCollection(name string, docs []store.Document) {
	out := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		fields := map[string]any{"_id": doc.ID}
		for _, k := range store.Keys(doc.Fields) {
			fields[k] = doc.Fields[k]
		}
		out = append(out, fields)
	}
	b, err := json.Marshal(out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		return
	}
	fmt.Fprintf(os.Stdout, "%s: %s\n", name, b)
}
