package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd assembles the CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sarvamrelay",
		Short: "Relay Vapi custom-transcriber audio to Sarvam streaming STT",
		Long: `sarvamrelay accepts Vapi custom-transcriber WebSocket connections,
forwards the caller channel of the stereo PCM stream to a streaming
speech-to-text upstream (Sarvam by default) and relays transcripts back
as transcriber-response messages.

Examples:
  # Serve with defaults; SARVAM_API_KEY is read from the environment or .env
  sarvamrelay serve

  # Serve with a config file
  sarvamrelay serve --config relay.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newVersionCmd())
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
