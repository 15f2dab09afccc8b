package telegram

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

const HelpText = `Commands:
/add <item name> <price> - watch an item, alert at or below the price
/list - show your alarms
/remove <alarm_id> - delete an alarm
/test <item name> - check a price right now (opens a browser tab when TTC wants a captcha solved)
/checknow [alarm_id] - run your alarms immediately
/help - show this help

Shorthand: send a message like
Dreugh Wax | 50000

Prices are plain gold numbers (50000, not 50.000).
You can hold up to 15 alarms.
Example:
/add Dragon Rheum 6000`

var ErrInvalidArguments = errors.New("invalid arguments")

var shorthandPattern = regexp.MustCompile(`^(.*?)\s*\|\s*([0-9.,]+)$`)

// ParseAddArgs splits "/add Dreugh Wax 50000" style arguments: the last
// field is the threshold, everything before it the item name.
func ParseAddArgs(args string) (string, int64, error) {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		return "", 0, ErrInvalidArguments
	}
	threshold, err := parseGold(fields[len(fields)-1])
	if err != nil {
		return "", 0, err
	}
	return strings.Join(fields[:len(fields)-1], " "), threshold, nil
}

func ParseAlarmID(args string) (uint, error) {
	idStr := strings.TrimSpace(args)
	if idStr == "" {
		return 0, ErrInvalidArguments
	}
	value, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return 0, ErrInvalidArguments
	}
	return uint(value), nil
}

// ParseShorthand recognizes the "<item> | <price>" quick-add form.
func ParseShorthand(text string) (string, int64, bool) {
	match := shorthandPattern.FindStringSubmatch(strings.TrimSpace(text))
	if match == nil {
		return "", 0, false
	}
	item := strings.TrimSpace(match[1])
	if len([]rune(item)) < 2 {
		return "", 0, false
	}
	threshold, err := parseGold(match[2])
	if err != nil {
		return "", 0, false
	}
	return item, threshold, true
}

// parseGold accepts "50000", "50.000" and "50,000" alike; users paste
// separators no matter what the help says. Separators must form valid
// thousands groups: a stray "5.5" is rejected rather than read as 55.
func parseGold(s string) (int64, error) {
	cleaned := strings.TrimSpace(s)
	if strings.ContainsAny(cleaned, ".,") {
		groups := strings.Split(strings.ReplaceAll(cleaned, ",", "."), ".")
		for i, g := range groups {
			if i == 0 {
				if len(g) < 1 || len(g) > 3 {
					return 0, ErrInvalidArguments
				}
				continue
			}
			if len(g) != 3 {
				return 0, ErrInvalidArguments
			}
		}
		cleaned = strings.Join(groups, "")
	}
	value, err := strconv.ParseInt(cleaned, 10, 64)
	if err != nil {
		return 0, ErrInvalidArguments
	}
	return value, nil
}
