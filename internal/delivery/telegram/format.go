package telegram

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/tamrielwatch/ttcwatch/internal/domain"
)

func escHTML(s string) string {
	return html.EscapeString(s)
}

// fmtGold renders 50000 as "50.000", the separator TTC itself uses.
func fmtGold(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

func formatAlert(event *domain.NotificationEvent) string {
	var b strings.Builder
	b.WriteString("🔥 <b>Deal found!</b>\n\n")
	fmt.Fprintf(&b, "🎯 <b>Item:</b> %s\n", escHTML(event.Alarm.ItemName))
	fmt.Fprintf(&b, "💰 <b>Price:</b> %sg\n", fmtGold(event.Listing.UnitPrice))
	fmt.Fprintf(&b, "🎯 <b>Your threshold:</b> %sg\n", fmtGold(event.Alarm.Threshold))
	if event.Listing.Guild != "" {
		fmt.Fprintf(&b, "🏪 <b>Guild:</b> %s\n", escHTML(event.Listing.Guild))
	}
	if event.Listing.Location != "" {
		fmt.Fprintf(&b, "📍 <b>Location:</b> %s\n", escHTML(event.Listing.Location))
	}
	b.WriteString("\nGrab it before someone else does.")
	return b.String()
}

func formatTestResult(itemName string, result *domain.FetchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 <b>%s</b>\n\n", escHTML(itemName))
	if len(result.Listings) > 0 {
		best := result.Listings[0]
		for _, l := range result.Listings[1:] {
			if l.UnitPrice < best.UnitPrice {
				best = l
			}
		}
		fmt.Fprintf(&b, "💰 <b>Lowest unit price:</b> %sg\n", fmtGold(best.UnitPrice))
		if best.Guild != "" {
			fmt.Fprintf(&b, "🏪 <b>Guild:</b> %s\n", escHTML(best.Guild))
		}
		if best.Location != "" {
			fmt.Fprintf(&b, "📍 <b>Location:</b> %s\n", escHTML(best.Location))
		}
		fmt.Fprintf(&b, "📋 Listings checked: %d\n", len(result.Listings))
	}
	return b.String()
}

func formatAlarmCard(alarm domain.Alarm, now time.Time) string {
	var b strings.Builder
	status := "📊"
	if alarm.Flagged {
		status = "⚠️"
	} else if alarm.CurrentPrice > 0 && alarm.CurrentPrice <= alarm.Threshold {
		status = "🔥"
	}
	fmt.Fprintf(&b, "%s <b>%s</b> (#%d)\n", status, escHTML(alarm.ItemName), alarm.ID)
	fmt.Fprintf(&b, "🎯 <b>Threshold:</b> %sg and below\n", fmtGold(alarm.Threshold))
	if alarm.CurrentPrice > 0 {
		fmt.Fprintf(&b, "💰 <b>Last price:</b> %sg\n", fmtGold(alarm.CurrentPrice))
	} else {
		b.WriteString("💰 <b>Last price:</b> <i>not checked yet</i>\n")
	}
	if alarm.LastNotifiedPrice != nil {
		fmt.Fprintf(&b, "🔔 <b>Last alerted:</b> %sg\n", fmtGold(*alarm.LastNotifiedPrice))
	}
	if alarm.LastCheckedAt != nil {
		fmt.Fprintf(&b, "⏱ <b>Checked:</b> %s\n", formatAge(now.Sub(*alarm.LastCheckedAt)))
	}
	if alarm.Flagged {
		b.WriteString("⚠️ Recent checks kept failing; still retrying.\n")
	}
	return b.String()
}

func formatAge(age time.Duration) string {
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%d min ago", int(age.Minutes()))
	default:
		return fmt.Sprintf("%d h ago", int(age.Hours()))
	}
}
