package hygiene

import (
	"fmt"
	"strings"
)

// FormatGeneralNotice lists newly stale channels for the general channel.
func FormatGeneralNotice(names []string, graceDays int) string {
	noun, verb, pronoun := "channel", "is", "it"
	if len(names) > 1 {
		noun, verb, pronoun = "channels", "are", "them"
	}
	refs := make([]string, len(names))
	for i, n := range names {
		refs[i] = "#" + n
	}
	return fmt.Sprintf("Hey, heads up -- the following %s %s stale and will be archived if no one participates in %s over the next %d days: %s",
		noun, verb, pronoun, graceDays, strings.Join(refs, ", "))
}

// FormatMembers lists the members of a channel being archived.
func FormatMembers(names []string) string {
	return "Members at archiving are " + strings.Join(names, ", ")
}

// FormatAnnouncement introduces a new channel.
func FormatAnnouncement(ch NewChannel) string {
	return fmt.Sprintf("Channel #%s was created by @%s with purpose: %s", ch.Name, ch.Creator, ch.Purpose)
}

// FormatFlagged quotes a message that crossed a reaction threshold.
func FormatFlagged(author, channel, text, link string) string {
	return fmt.Sprintf("*%s* said in *#%s* _'%s'_ (%s)", author, channel, text, link)
}

// MessageLink builds the permalink of a message.
func MessageLink(slackName, channelID, ts string) string {
	return fmt.Sprintf("https://%s.slack.com/archives/%s/p%s", slackName, channelID, strings.ReplaceAll(ts, ".", ""))
}

// FormatStats renders the top channel and user tables.
func FormatStats(channels, users []Count, channelTop, userTop int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*==========TOP %d CHANNELS==========*\n", channelTop)
	for _, c := range head(channels, channelTop) {
		fmt.Fprintf(&b, "*%s* was a top channel in the last 24 hours with %d messages\n", c.Name, c.Count)
	}
	fmt.Fprintf(&b, "\n*==========TOP %d USERS==========*\n", userTop)
	for _, u := range head(users, userTop) {
		fmt.Fprintf(&b, "*%s* was a top user in the last 24 hours with %d messages\n", u.Name, u.Count)
	}
	return b.String()
}

func head(counts []Count, n int) []Count {
	if n < 0 {
		n = 0
	}
	if len(counts) > n {
		return counts[:n]
	}
	return counts
}
