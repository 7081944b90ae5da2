package mail

import "fmt"

func VerificationCodeMessage(from, to, code string) Message {
	return Message{
		From:    from,
		To:      to,
		Subject: "Your reading diary verification code",
		Text:    fmt.Sprintf("Your verification code is %s.\n\nEnter it on the verification page to finish signing in.\n", code),
	}
}

func PasswordResetMessage(from, to, link string) Message {
	return Message{
		From:    from,
		To:      to,
		Subject: "Reset your reading diary password",
		Text:    fmt.Sprintf("Someone asked to reset the password for this account.\n\nOpen %s to choose a new one. If it wasn't you, ignore this message.\n", link),
	}
}
