// cmd/rolerealm/commands.go
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/Corphon/RoleRealm/internal/app"
	"github.com/Corphon/RoleRealm/internal/config"
	"github.com/Corphon/RoleRealm/internal/models"
	"github.com/Corphon/RoleRealm/internal/services"
	"github.com/Corphon/RoleRealm/internal/utils"
	"github.com/spf13/cobra"
)

// NewRootCmd 控制台入口
func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "rolerealm",
		Short:         "RoleRealm - 多角色角色扮演控制台",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.Version = version

	cmd.PersistentFlags().String("data-dir", "", "数据目录（默认读取 DATA_DIR）")
	cmd.PersistentFlags().String("persistence", "", "持久化后端: sqlite, file, memory")
	cmd.PersistentFlags().Bool("json", false, "以JSON格式输出")
	cmd.PersistentFlags().Bool("debug", false, "输出调试日志")

	cmd.AddCommand(
		newStoriesCmd(),
		newSessionsCmd(),
		newPlayCmd(),
		newResumeCmd(),
		newHistoryCmd(),
	)
	return cmd
}

// openApp 加载配置、应用命令行覆盖并装配服务
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	if backend, _ := cmd.Flags().GetString("persistence"); backend != "" {
		cfg.Persistence = backend
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level := utils.WARNING
	if debug, _ := cmd.Flags().GetBool("debug"); debug || cfg.DebugMode {
		level = utils.DEBUG
	}
	return app.New(cfg, utils.NewLogger(cmd.ErrOrStderr(), level))
}

func wantJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newStoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stories",
		Short: "列出可用故事",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Cleanup()

			stories, err := a.Sessions().ListStories()
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), stories)
			}
			if len(stories) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "📭 没有可用的故事")
				return nil
			}
			for _, id := range stories {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

func newSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "列出已保存的会话",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Cleanup()

			sessions, err := a.Sessions().ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), sessions)
			}
			for _, s := range sessions {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-20s  %-12s  %s\n",
					s.ID, s.StoryID, s.HumanName, s.CreatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}

func newPlayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play <story-id>",
		Short: "开始新会话并进入交互模式",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Cleanup()

			name, _ := cmd.Flags().GetString("name")
			ctx := cmd.Context()
			sessionID, err := a.Sessions().InitSession(ctx, args[0], name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ 会话已创建: %s\n", sessionID)
			return runConsole(ctx, a.Sessions(), sessionID, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("name", "", "玩家显示名称")
	return cmd
}

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <session-id>",
		Short: "恢复已保存的会话并进入交互模式",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Cleanup()

			ctx := cmd.Context()
			if _, err := a.Sessions().ResumeSession(ctx, args[0]); err != nil {
				return err
			}
			return runConsole(ctx, a.Sessions(), args[0], cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <session-id>",
		Short: "查看会话时间线",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Cleanup()

			sessions := a.Sessions()
			if _, err := sessions.ResumeSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			from, _ := cmd.Flags().GetInt64("from")
			to, _ := cmd.Flags().GetInt64("to")
			events, err := sessions.History(args[0], from, to)
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), events)
			}
			printEvents(cmd.OutOrStdout(), sessions, args[0], events)
			return nil
		},
	}
	cmd.Flags().Int64("from", 1, "起始序号")
	cmd.Flags().Int64("to", 0, "结束序号（0 表示最新）")
	return cmd
}

// runConsole 交互循环：普通输入作为人类消息，斜杠开头为控制命令
func runConsole(ctx context.Context, sessions *services.SessionService, sessionID string, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	history, err := sessions.History(sessionID, 1, 0)
	if err != nil {
		return err
	}
	printEvents(out, sessions, sessionID, history)
	fmt.Fprintln(out, "💡 输入消息开始对话，/status 查看进展，/who [名字] 查看角色，/quit 退出")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			fmt.Fprintln(out, "👋 再见")
			return nil
		case "/status":
			status, err := sessions.Status(sessionID)
			if err != nil {
				return err
			}
			printStatus(out, status)
			continue
		}
		if line == "/who" || strings.HasPrefix(line, "/who ") {
			if err := printWho(out, sessions, sessionID, strings.TrimSpace(strings.TrimPrefix(line, "/who"))); err != nil {
				fmt.Fprintf(out, "❌ %v\n", err)
			}
			continue
		}

		events, err := sessions.PostMessage(ctx, sessionID, line)
		// 人类消息已由输入回显
		if len(events) > 0 && events[0].Originator == models.ActorHuman {
			events = events[1:]
		}
		printEvents(out, sessions, sessionID, events)
		if err != nil {
			fmt.Fprintf(out, "❌ %v\n", err)
		}
	}
}

// printWho 无参数时列出角色表，否则显示指定角色
func printWho(out io.Writer, sessions *services.SessionService, sessionID, name string) error {
	if name == "" {
		roster, err := sessions.Roster(sessionID)
		if err != nil {
			return err
		}
		for _, c := range roster.Characters {
			mark := "  "
			if c.Present {
				mark = "👤"
			}
			if c.Director {
				mark = "🎬"
			}
			fmt.Fprintf(out, "%s %s (%s)\n", mark, c.Name, c.ID)
		}
		if len(roster.DirectorTriggers) > 0 {
			fmt.Fprintf(out, "💡 召唤导演: %s\n", strings.Join(roster.DirectorTriggers, ", "))
		}
		return nil
	}

	c, err := sessions.FindCharacter(sessionID, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "👤 %s (%s)\n", c.Name, c.ID)
	if len(c.Traits) > 0 {
		fmt.Fprintf(out, "   性格: %s\n", strings.Join(c.Traits, ", "))
	}
	if c.SpeakingStyle != "" {
		fmt.Fprintf(out, "   说话风格: %s\n", c.SpeakingStyle)
	}
	return nil
}

func printStatus(out io.Writer, status *models.StoryProgressStatus) {
	fmt.Fprintf(out, "📍 %s (%s)\n", status.CurrentScene, status.StoryTitle)
	if status.IsComplete {
		fmt.Fprintln(out, "🏁 全部目标已完成")
		return
	}
	fmt.Fprintf(out, "🎯 %d/%d  %.0f%%", status.CompletedObjectives, status.TotalObjectives, status.Progress)
	if status.ActiveObjectiveDesc != "" {
		fmt.Fprintf(out, "  当前目标: %s", status.ActiveObjectiveDesc)
	}
	fmt.Fprintln(out)
}

func printEvents(out io.Writer, sessions *services.SessionService, sessionID string, events []models.Event) {
	for _, e := range events {
		fmt.Fprintln(out, formatEvent(e, sessions.DisplayName(sessionID, e.Originator)))
	}
}

// formatEvent 单行渲染一个事件
func formatEvent(e models.Event, name string) string {
	switch e.Kind {
	case models.EventMessage:
		return fmt.Sprintf("[%d] %s: %s", e.Seq, name, e.Payload)
	case models.EventAction:
		return fmt.Sprintf("[%d] *%s %s*", e.Seq, name, e.Payload)
	case models.EventSceneChange:
		return fmt.Sprintf("[%d] 🎬 %s", e.Seq, e.Payload)
	case models.EventObjectiveComplete:
		return fmt.Sprintf("[%d] 🎯 %s", e.Seq, e.Payload)
	case models.EventSystemNote:
		return fmt.Sprintf("[%d] ⚠️ %s", e.Seq, e.Payload)
	}
	return fmt.Sprintf("[%d] %s", e.Seq, e.Payload)
}
