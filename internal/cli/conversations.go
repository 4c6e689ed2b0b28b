package cli

import (
	"fmt"
	"os"

	"github.com/raphaelgruber/pmchat/internal/models"
	"github.com/spf13/cobra"
)

var (
	convOutput string
	convTitle  string
	convModel  string
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "Manage conversations",
	Long: `List, create, show and delete conversations.

Examples:
  pmchat conversations
  pmchat conversations create --title "Sprint planning"
  pmchat conversations show <id> -o yaml
  pmchat conversations delete <id>`,
	RunE: runConversationsList,
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations",
	RunE:  runConversationsList,
}

var conversationsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a conversation",
	RunE:  runConversationsCreate,
}

var conversationsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a conversation with its messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runConversationsShow,
}

var conversationsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runConversationsDelete,
}

func init() {
	conversationsCmd.PersistentFlags().StringVarP(&convOutput, "output", "o", formatText, "output format (text, yaml)")
	conversationsCreateCmd.Flags().StringVarP(&convTitle, "title", "t", "New conversation", "conversation title")
	conversationsCreateCmd.Flags().StringVarP(&convModel, "model", "m", "", "model for the conversation")

	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsCreateCmd)
	conversationsCmd.AddCommand(conversationsShowCmd)
	conversationsCmd.AddCommand(conversationsDeleteCmd)
}

func runConversationsList(cmd *cobra.Command, args []string) error {
	if err := checkFormat(convOutput); err != nil {
		return err
	}

	convs, err := apiClient.ListConversations(cmd.Context())
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}

	if convOutput == formatYAML {
		return writeYAML(os.Stdout, convs)
	}

	if len(convs) == 0 {
		fmt.Println("No conversations found.")
		return nil
	}

	fmt.Printf("Conversations (%d):\n\n", len(convs))
	for _, c := range convs {
		fmt.Printf("- %s  %s\n", c.ID, c.Title)
		if verbose {
			fmt.Printf("  Updated: %s\n", c.UpdatedAt.Local().Format("2006-01-02 15:04"))
			if c.ModelID != "" {
				fmt.Printf("  Model: %s\n", c.ModelID)
			}
		}
	}
	return nil
}

func runConversationsCreate(cmd *cobra.Command, args []string) error {
	if err := checkFormat(convOutput); err != nil {
		return err
	}

	input := models.ConversationInput{Title: convTitle}
	model := convModel
	if model == "" {
		model = cfg.Model
	}
	if model != "" {
		input.ModelID = &model
	}

	conv, err := apiClient.CreateConversation(cmd.Context(), input)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}

	if convOutput == formatYAML {
		return writeYAML(os.Stdout, conv)
	}
	fmt.Printf("Created conversation %s (%s)\n", conv.ID, conv.Title)
	return nil
}

func runConversationsShow(cmd *cobra.Command, args []string) error {
	if err := checkFormat(convOutput); err != nil {
		return err
	}

	conv, err := apiClient.GetConversation(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("get conversation: %w", err)
	}

	if convOutput == formatYAML {
		return writeYAML(os.Stdout, conv)
	}

	fmt.Printf("%s  %s\n\n", conv.ID, conv.Title)
	if len(conv.Messages) == 0 {
		fmt.Println("No messages yet.")
		return nil
	}
	for _, m := range conv.Messages {
		printMessage(m)
		fmt.Println()
	}
	return nil
}

func runConversationsDelete(cmd *cobra.Command, args []string) error {
	if err := apiClient.DeleteConversation(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	fmt.Printf("Deleted conversation %s\n", args[0])
	return nil
}
