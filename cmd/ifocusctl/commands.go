package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/tasukuchiba/ifocus/internal/client"
	"github.com/tasukuchiba/ifocus/internal/models"
)

func (a *app) table(header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(a.out)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	return table
}

func cmdRegister(ctx context.Context, a *app, args []string) error {
	if len(args) < 3 {
		return errUsage
	}
	if err := a.session.SignUp(ctx, args[0], args[1]); err != nil {
		return err
	}
	created, err := a.api.CreateProfile(ctx, strings.Join(args[2:], " "))
	if err != nil {
		return err
	}
	color.Green.Printf("registered %s (%s)\n", args[0], created.UID)
	return nil
}

func cmdLogin(ctx context.Context, a *app, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	if err := a.session.SignIn(ctx, args[0], args[1]); err != nil {
		return err
	}
	color.Green.Printf("signed in as %s\n", a.session.State().Email)
	return nil
}

func cmdLogout(_ context.Context, a *app, _ []string) error {
	a.session.SignOut()
	color.Green.Println("signed out")
	return nil
}

func cmdMe(ctx context.Context, a *app, _ []string) error {
	me, err := a.api.Me(ctx)
	if err != nil {
		return err
	}
	table := a.table("Field", "Value")
	table.Append([]string{"uid", me.UID})
	table.Append([]string{"name", me.Name})
	table.Append([]string{"email", me.Email})
	table.Append([]string{"avatar", lo.FromPtrOr(me.AvatarURL, me.Avatar)})
	table.Append([]string{"helping", strings.Join(me.HelpingSubjects, ", ")})
	table.Render()
	return nil
}

func cmdSubjects(ctx context.Context, a *app, _ []string) error {
	subjects, err := a.api.Subjects(ctx)
	if err != nil {
		return err
	}
	for _, s := range subjects {
		fmt.Fprintln(a.out, s)
	}
	return nil
}

func cmdSetSubjects(ctx context.Context, a *app, args []string) error {
	subjects := lo.Compact(lo.Map(args, func(s string, _ int) string { return strings.TrimSpace(s) }))
	if subjects == nil {
		subjects = []string{}
	}
	me, err := a.api.UpdateMe(ctx, client.ProfileUpdate{HelpingSubjects: subjects})
	if err != nil {
		return err
	}
	color.Green.Printf("helping with: %s\n", strings.Join(me.HelpingSubjects, ", "))
	return nil
}

func cmdHelpers(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	helpers, err := a.api.Helpers(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	table := a.table("UID", "Name", "Email", "Subjects")
	for _, h := range helpers {
		table.Append([]string{h.UID, h.Name, h.Email, strings.Join(h.HelpingSubjects, ", ")})
	}
	table.Render()
	return nil
}

func cmdChats(ctx context.Context, a *app, _ []string) error {
	uid := a.session.State().UID
	if uid == "" {
		return client.ErrSignedOut
	}
	chats, err := a.api.UserChats(ctx, uid)
	if err != nil {
		return err
	}
	others := lo.FilterMap(chats, func(c models.Chat, _ int) (string, bool) { return c.OtherParticipant(uid) })
	users, err := a.api.PublicUsers(ctx, lo.Uniq(others))
	if err != nil {
		return err
	}
	names := lo.SliceToMap(users, func(u models.PublicUser) (string, string) { return u.UID, u.Name })

	table := a.table("Chat", "With", "Last message", "Updated")
	for _, c := range chats {
		other, _ := c.OtherParticipant(uid)
		preview := lo.FromPtr(c.LastMessage)
		if lo.FromPtr(c.LastSender) == uid {
			preview = "you: " + preview
		}
		table.Append([]string{c.ID, lo.ValueOr(names, other, other), preview, formatMillis(c.UpdatedAt)})
	}
	table.Render()
	return nil
}

func cmdOpen(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	chatID, err := a.api.CreateChat(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, chatID)
	return nil
}

func cmdHistory(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "number of messages")
	before := fs.Int64("before", 0, "only messages older than this timestamp (ms)")
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		return errUsage
	}
	msgs, err := a.api.Messages(ctx, fs.Arg(0), *limit, *before)
	if err != nil {
		return err
	}
	uid := a.session.State().UID
	for _, m := range msgs {
		printMessage(a.out, uid, m)
	}
	if len(msgs) > 0 {
		color.Gray.Printf("older: ifocusctl history -before %d %s\n", msgs[0].Timestamp, fs.Arg(0))
	}
	return nil
}

// receiverFor はチャットの相手のuidを返す
func (a *app) receiverFor(ctx context.Context, chatID string) (string, error) {
	uid := a.session.State().UID
	if uid == "" {
		return "", client.ErrSignedOut
	}
	chats, err := a.api.UserChats(ctx, uid)
	if err != nil {
		return "", err
	}
	chat, ok := lo.Find(chats, func(c models.Chat) bool { return c.ID == chatID })
	if !ok {
		return "", fmt.Errorf("chat %s not found, open it first", chatID)
	}
	other, _ := chat.OtherParticipant(uid)
	return other, nil
}

func cmdSend(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	filePath := fs.String("file", "", "attach a file")
	if err := fs.Parse(args); err != nil || fs.NArg() < 1 {
		return errUsage
	}
	text := strings.Join(fs.Args()[1:], " ")
	var file *client.File
	if *filePath != "" {
		data, err := os.ReadFile(*filePath)
		if err != nil {
			return fmt.Errorf("read attachment: %w", err)
		}
		file = &client.File{Name: filepath.Base(*filePath), Data: data}
	}
	if strings.TrimSpace(text) == "" && file == nil {
		return errUsage
	}

	receiver, err := a.receiverFor(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	sent, err := a.api.SendMessage(ctx, fs.Arg(0), receiver, text, file)
	if err != nil {
		return err
	}
	color.Green.Printf("sent %s\n", sent.MessageID)
	return nil
}

// cmdWatch はメッセージを表示し続け、標準入力の各行を送信する
func cmdWatch(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	sub, err := a.api.Subscribe(ctx, args[0])
	if err != nil {
		return err
	}
	defer sub.Close()

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if err := sub.Send(line); err != nil {
				color.Error.Println(err)
				return
			}
		}
	}()

	uid := a.session.State().UID
	for {
		select {
		case m, ok := <-sub.Messages():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return sub.Err()
			}
			printMessage(a.out, uid, m)
		case detail, ok := <-sub.Errors():
			if ok {
				color.Error.Println(detail)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func printMessage(w io.Writer, uid string, m models.Message) {
	who := color.Cyan.Sprint(m.SenderID)
	if m.SenderID == uid {
		who = color.Green.Sprint("you")
	}
	body := lo.FromPtr(m.Message)
	if m.FileURL != nil {
		attachment := fmt.Sprintf("[%s] %s", lo.FromPtrOr(m.FileName, "file"), *m.FileURL)
		body = strings.TrimSpace(body + " " + color.Yellow.Sprint(attachment))
	}
	fmt.Fprintf(w, "%s %s: %s\n", color.Gray.Sprint(formatMillis(m.Timestamp)), who, body)
}

func formatMillis(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
}

