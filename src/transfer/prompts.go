package transfer

import (
	"fmt"
	"strings"
)

// BriefingMessage is spoken to the specialist once they answer
func BriefingMessage(summary, connecting string) string {
	return fmt.Sprintf(
		"A customer is on hold waiting to speak with you. Here's what they need help with:\n\n%s\n\n%s",
		summary, connecting,
	)
}

// CorrectiveMessage tells the conversation engine that name is not a valid
// target so it can retry with one of the configured names
func CorrectiveMessage(name string, available []string) string {
	return fmt.Sprintf(
		"Transfer target '%s' not found. Available targets are: %s. Please try again with a valid target name.",
		name, strings.Join(available, ", "),
	)
}

// PromptOptions customizes the system prompt
type PromptOptions struct {
	AgentName string
	Company   string
}

// Greeting is the first thing the agent says to the caller
func (o PromptOptions) Greeting() string {
	return fmt.Sprintf("Hello, this is %s from %s. How can I help you today?", o.agentName(), o.company())
}

func (o PromptOptions) agentName() string {
	if o.AgentName == "" {
		return "Hailey"
	}
	return o.AgentName
}

func (o PromptOptions) company() string {
	if o.Company == "" {
		return "customer support"
	}
	return o.Company
}

// BuildSystemPrompt renders the conversation engine's instructions,
// including the list of transfer targets it may choose from
func BuildSystemPrompt(targets []TransferTarget, opts PromptOptions) string {
	var list strings.Builder
	for i, t := range targets {
		if i > 0 {
			list.WriteByte('\n')
		}
		fmt.Fprintf(&list, "   - **%s**: %s", t.Name, t.Description)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a friendly customer support representative. ", opts.agentName())
	b.WriteString("Your replies are spoken aloud, so use plain conversational sentences without lists, markup or special characters.\n\n")

	b.WriteString("## Guidelines\n\n")
	fmt.Fprintf(&b, "1. Greet callers with: %q\n\n", opts.Greeting())
	b.WriteString("2. Try to help the caller directly when you can.\n\n")
	fmt.Fprintf(&b, "3. When the caller needs a specialist, pick the best team below and call `%s` with its exact name and a short summary of the caller's issue for the specialist.\n\n", ToolInitiateWarmTransfer)
	fmt.Fprintf(&b, "4. When the caller says goodbye or wants to hang up, call `%s`.\n\n", ToolTerminateCall)

	b.WriteString("## Available Transfer Targets\n\n")
	b.WriteString(list.String())
	b.WriteString("\n\n")

	b.WriteString("## During a Transfer\n\n")
	b.WriteString("The caller hears hold music while you brief the specialist, and is connected once the briefing is done. ")
	b.WriteString("If nobody answers you will be back with the caller: apologize and offer to try again or help another way. ")
	b.WriteString("Never talk about muting or transferring; say you are connecting them or putting them through.\n")

	return b.String()
}
