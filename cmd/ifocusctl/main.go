// ifocusctl はiFocusのコマンドラインクライアント
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/tasukuchiba/ifocus/internal/client"
)

const defaultServer = "http://localhost:8000"

type command struct {
	usage string
	run   func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"register":     {"register EMAIL PASSWORD NAME...", cmdRegister},
	"login":        {"login EMAIL PASSWORD", cmdLogin},
	"logout":       {"logout", cmdLogout},
	"me":           {"me", cmdMe},
	"subjects":     {"subjects", cmdSubjects},
	"set-subjects": {"set-subjects SUBJECT...", cmdSetSubjects},
	"helpers":      {"helpers SUBJECT", cmdHelpers},
	"chats":        {"chats", cmdChats},
	"open":         {"open UID", cmdOpen},
	"history":      {"history [-limit N] [-before TS] CHAT_ID", cmdHistory},
	"send":         {"send [-file PATH] CHAT_ID [TEXT...]", cmdSend},
	"watch":        {"watch CHAT_ID", cmdWatch},
}

// app はコマンド間で共有する状態
type app struct {
	session     *client.Session
	api         *client.Client
	sessionPath string
	out         io.Writer
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("ifocusctl", flag.ContinueOnError)
	server := fs.String("server", envOr("IFOCUS_SERVER", defaultServer), "server base URL")
	sessionPath := fs.String("session", envOr("IFOCUS_SESSION", defaultSessionPath()), "session file")
	fs.Usage = func() { usage(fs) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		usage(fs)
		return 2
	}
	cmd, ok := commands[fs.Arg(0)]
	if !ok {
		color.Error.Printf("unknown command %q\n", fs.Arg(0))
		usage(fs)
		return 2
	}

	session := client.NewSession(*server, nil)
	if err := session.Load(*sessionPath); err != nil {
		color.Error.Println(err)
		return 1
	}
	a := &app{
		session:     session,
		api:         client.New(*server, session, nil),
		sessionPath: *sessionPath,
		out:         os.Stdout,
	}
	// トークンが更新されたら保存する
	unsubscribe := session.OnAuthStateChanged(func(client.AuthState) { _ = session.Save(*sessionPath) })
	defer unsubscribe()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.run(ctx, a, fs.Args()[1:]); err != nil {
		var apiErr *client.APIError
		switch {
		case errors.Is(err, errUsage):
			color.Warn.Println("usage: ifocusctl " + cmd.usage)
			return 2
		case errors.Is(err, client.ErrSignedOut):
			color.Error.Println("not signed in, run: ifocusctl login EMAIL PASSWORD")
		case errors.As(err, &apiErr):
			color.Error.Printf("%d %s\n", apiErr.StatusCode, apiErr.Detail)
		default:
			color.Error.Println(err)
		}
		return 1
	}
	return 0
}

var errUsage = errors.New("usage")

func usage(fs *flag.FlagSet) {
	fmt.Fprintln(os.Stderr, "usage: ifocusctl [-server URL] [-session FILE] COMMAND [ARGS]")
	fs.PrintDefaults()
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(os.Stderr, "\ncommands:")
	for _, name := range names {
		fmt.Fprintln(os.Stderr, "  "+commands[name].usage)
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".ifocus-session.json"
	}
	return filepath.Join(dir, "ifocus", "session.json")
}
