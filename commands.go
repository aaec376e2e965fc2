package main

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/urfave/cli/v2"

	"e2echat/chat"
	"e2echat/crypto"
	"e2echat/models"
)

func conversationFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "to",
		Aliases:  []string{"c"},
		Usage:    "Conversation as dm:<user> or group:<id>",
		Required: true,
	}
}

func conversationArg(ctx *cli.Context) (chat.ConversationID, error) {
	return chat.ParseConversationID(ctx.String("to"))
}

// openConversation opens the conversation named by --to. Callers close the session.
func openConversation(ctx *cli.Context) (*chat.Session, error) {
	id, err := conversationArg(ctx)
	if err != nil {
		return nil, err
	}
	return getApp(ctx).client.Open(ctx.Context, id, chat.SessionOptions{})
}

var keyCommand = &cli.Command{
	Name:   "key",
	Usage:  "Show the key fingerprint of a conversation",
	Flags:  []cli.Flag{conversationFlag()},
	Action: cmdKey,
}

func cmdKey(ctx *cli.Context) error {
	id, err := conversationArg(ctx)
	if err != nil {
		return err
	}
	key, err := getApp(ctx).client.Key(id)
	if err != nil {
		return err
	}
	fmt.Printf("Conversation:    %s\n", id)
	fmt.Printf("Fingerprint:     %s\n", crypto.FormatFingerprint(key.Fingerprint()))
	return nil
}

var sendCommand = &cli.Command{
	Name:      "send",
	Usage:     "Send an encrypted message",
	ArgsUsage: "TEXT",
	Flags: []cli.Flag{
		conversationFlag(),
		&cli.StringFlag{Name: "reply", Usage: "ID of the message being replied to"},
	},
	Action: cmdSend,
}

func cmdSend(ctx *cli.Context) error {
	text := strings.Join(ctx.Args().Slice(), " ")
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("you must specify the message text")
	}
	s, err := openConversation(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	message, err := s.SendMessage(ctx.Context, text, ctx.String("reply"))
	if err != nil {
		return err
	}
	fmt.Printf("Sent %s\n", message.ID)
	return nil
}

var sendFileCommand = &cli.Command{
	Name:      "send-file",
	Usage:     "Send a local file as an image, voice or file message",
	ArgsUsage: "PATH",
	Flags: []cli.Flag{
		conversationFlag(),
		&cli.StringFlag{Name: "reply", Usage: "ID of the message being replied to"},
	},
	Action: cmdSendFile,
}

func cmdSendFile(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return fmt.Errorf("you must specify a file path")
	}
	attachment, err := attachmentFromFile(ctx.Args().First())
	if err != nil {
		return err
	}
	s, err := openConversation(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	message, err := s.SendAttachment(ctx.Context, attachment, ctx.String("reply"))
	if err != nil {
		return err
	}
	fmt.Printf("Sent %s %s (%s, %d bytes)\n", message.Kind, message.ID, attachment.MimeType, attachment.Size)
	return nil
}

// attachmentFromFile describes a local file. The URI points at the file itself;
// uploading to a media store is outside this tool.
func attachmentFromFile(path string) (models.Attachment, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("resolve %q: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("stat %q: %w", path, err)
	}
	if info.IsDir() {
		return models.Attachment{}, fmt.Errorf("%q is a directory", path)
	}
	mtype, err := mimetype.DetectFile(abs)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("detect type of %q: %w", path, err)
	}

	return models.Attachment{
		Kind:     models.KindForMimeType(mtype.String()),
		URI:      "file://" + filepath.ToSlash(abs),
		Name:     info.Name(),
		MimeType: mtype.String(),
		Size:     info.Size(),
	}, nil
}

var historyCommand = &cli.Command{
	Name:  "history",
	Usage: "Print the decrypted messages of a conversation",
	Flags: []cli.Flag{
		conversationFlag(),
		&cli.IntFlag{Name: "pages", Usage: "Number of older pages to load after the newest one", Value: 0},
	},
	Action: cmdHistory,
}

func cmdHistory(ctx *cli.Context) error {
	s, err := openConversation(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	for i := 0; i < ctx.Int("pages"); i++ {
		added, err := s.LoadOlderMessages(ctx.Context)
		if err != nil {
			return err
		}
		if added == 0 {
			break
		}
	}

	snapshot := s.Snapshot()
	if snapshot.HasMore {
		fmt.Printf("(%d older messages not loaded)\n", snapshot.PageOffset)
	}
	for _, message := range snapshot.Messages {
		printMessage(message)
	}
	return nil
}

func printMessage(message models.Message) {
	var flags []string
	if message.IsEdited {
		flags = append(flags, "edited")
	}
	if message.ReplyToID != "" {
		flags = append(flags, "reply to "+message.ReplyToID)
	}
	flags = append(flags, reactionCounts(message.Reactions)...)
	suffix := ""
	if len(flags) > 0 {
		suffix = " (" + strings.Join(flags, ", ") + ")"
	}
	fmt.Printf("%s  %-8s %s  %s: %s%s\n",
		time.UnixMilli(message.CreatedAt).Format(time.DateTime),
		message.Status,
		message.ID,
		message.SenderID,
		message.Preview(),
		suffix,
	)
}

// reactionCounts renders reactions as "emoji×count", sorted by emoji.
func reactionCounts(reactions models.Reactions) []string {
	out := make([]string, 0, len(reactions))
	for _, emoji := range slices.Sorted(maps.Keys(reactions)) {
		out = append(out, fmt.Sprintf("%s×%d", emoji, reactions[emoji]))
	}
	return out
}

var editCommand = &cli.Command{
	Name:      "edit",
	Usage:     "Replace the text of a message",
	ArgsUsage: "MESSAGE_ID TEXT",
	Flags:     []cli.Flag{conversationFlag()},
	Action:    cmdEdit,
}

func cmdEdit(ctx *cli.Context) error {
	if ctx.NArg() < 2 {
		return fmt.Errorf("you must specify a message ID and the new text")
	}
	s, err := openConversation(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	message, err := s.EditMessage(ctx.Context, ctx.Args().First(), strings.Join(ctx.Args().Tail(), " "))
	if err != nil {
		return err
	}
	fmt.Printf("Edited %s\n", message.ID)
	return nil
}

var deleteCommand = &cli.Command{
	Name:      "delete",
	Usage:     "Delete a message for everyone",
	ArgsUsage: "MESSAGE_ID",
	Flags:     []cli.Flag{conversationFlag()},
	Action:    cmdDelete,
}

func cmdDelete(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return fmt.Errorf("you must specify a message ID")
	}
	s, err := openConversation(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.DeleteMessage(ctx.Context, ctx.Args().First()); err != nil {
		return err
	}
	fmt.Printf("Message '%s' deleted\n", ctx.Args().First())
	return nil
}

var reactCommand = &cli.Command{
	Name:      "react",
	Usage:     "React to a message with an emoji",
	ArgsUsage: "MESSAGE_ID EMOJI",
	Flags:     []cli.Flag{conversationFlag()},
	Action:    cmdReact,
}

func cmdReact(ctx *cli.Context) error {
	if ctx.NArg() < 2 {
		return fmt.Errorf("you must specify a message ID and an emoji")
	}
	s, err := openConversation(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	reactions, err := s.ReactToMessage(ctx.Context, ctx.Args().Get(0), ctx.Args().Get(1))
	if err != nil {
		return err
	}
	for _, emoji := range slices.Sorted(maps.Keys(reactions)) {
		fmt.Printf("%s %d\n", emoji, reactions[emoji])
	}
	return nil
}

var forwardCommand = &cli.Command{
	Name:      "forward",
	Usage:     "Send the same text to several conversations",
	ArgsUsage: "TEXT",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{Name: "to", Aliases: []string{"c"}, Usage: "Target conversation, repeatable", Required: true},
	},
	Action: cmdForward,
}

func cmdForward(ctx *cli.Context) error {
	text := strings.Join(ctx.Args().Slice(), " ")
	var targets []chat.ConversationID
	for _, raw := range ctx.StringSlice("to") {
		id, err := chat.ParseConversationID(raw)
		if err != nil {
			return err
		}
		targets = append(targets, id)
	}

	sent, err := getApp(ctx).client.ForwardMessage(ctx.Context, text, targets)
	for _, message := range sent {
		target := chat.Direct(message.ReceiverID)
		if message.IsGroup() {
			target = chat.Group(message.GroupID)
		}
		fmt.Printf("Forwarded to %s as %s\n", target, message.ID)
	}
	return err
}

var membersCommand = &cli.Command{
	Name:  "members",
	Usage: "Manage group membership",
	Subcommands: []*cli.Command{
		{
			Name:      "add",
			Usage:     "Add a user to a group",
			ArgsUsage: "GROUP_ID USER_ID",
			Action: func(ctx *cli.Context) error {
				if ctx.NArg() < 2 {
					return fmt.Errorf("you must specify a group ID and a user ID")
				}
				return getApp(ctx).store.AddGroupMember(ctx.Context, ctx.Args().Get(0), ctx.Args().Get(1))
			},
		},
		{
			Name:      "remove",
			Usage:     "Remove a user from a group",
			ArgsUsage: "GROUP_ID USER_ID",
			Action: func(ctx *cli.Context) error {
				if ctx.NArg() < 2 {
					return fmt.Errorf("you must specify a group ID and a user ID")
				}
				return getApp(ctx).store.RemoveGroupMember(ctx.Context, ctx.Args().Get(0), ctx.Args().Get(1))
			},
		},
		{
			Name:      "list",
			Usage:     "List the members of a group",
			ArgsUsage: "GROUP_ID",
			Action: func(ctx *cli.Context) error {
				if ctx.NArg() == 0 {
					return fmt.Errorf("you must specify a group ID")
				}
				members, err := getApp(ctx).store.ListGroupMembers(ctx.Context, ctx.Args().First())
				if err != nil {
					return err
				}
				for _, member := range members {
					fmt.Println(member)
				}
				return nil
			},
		},
	},
}
