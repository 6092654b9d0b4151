package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sotir3d/orpheus-epub-to-audiobook/internal/tts"
)

// NewVoicesCmd creates the voices command.
func NewVoicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List available narration voices and emotion tags",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Voices (in order of conversational realism):")
			for _, v := range tts.Voices {
				if v == tts.DefaultVoice {
					fmt.Fprintf(out, "  %s (default)\n", v)
					continue
				}
				fmt.Fprintf(out, "  %s\n", v)
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Emotion tags usable inline in the text:")
			fmt.Fprintf(out, "  %s\n", strings.Join(tts.EmotionTags, " "))
		},
	}
}
