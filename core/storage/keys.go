package storage

import "strconv"

// Key builders for every entity the bot persists. Centralized so the captcha,
// relay and moderation packages cannot collide within the shared namespace.

// ChallengeKey addresses the pending arithmetic challenge of a chat.
func ChallengeKey(chatID int64) string {
	return "captcha:answer:" + strconv.FormatInt(chatID, 10)
}

// AttemptsKey addresses the remaining-attempts counter of a chat.
func AttemptsKey(chatID int64) string {
	return "captcha:attempts:" + strconv.FormatInt(chatID, 10)
}

// VerifiedKey addresses the verified mark of a chat.
func VerifiedKey(chatID int64) string {
	return "verified:" + strconv.FormatInt(chatID, 10)
}

// BlockKey addresses the moderation block flag of a chat.
func BlockKey(chatID int64) string {
	return "blocked:" + strconv.FormatInt(chatID, 10)
}

// RouteKey maps a forwarded message id back to the originating guest chat.
func RouteKey(messageID int) string {
	return "routemap:" + strconv.Itoa(messageID)
}

// NotifyKey addresses the notification rate-limit marker of a chat.
func NotifyKey(chatID int64) string {
	return "notify:last:" + strconv.FormatInt(chatID, 10)
}
