package config

// SMTPSettings holds the outgoing mail configuration.
type SMTPSettings struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (s SMTPSettings) Enabled() bool {
	return s.Host != "" && s.From != ""
}

func LoadSMTPSettings() SMTPSettings {
	return SMTPSettings{
		Host:     stringFromEnv("SMTP_HOST", ""),
		Port:     intFromEnv("SMTP_PORT", 587),
		Username: stringFromEnv("SMTP_USERNAME", ""),
		Password: stringFromEnv("SMTP_PASSWORD", ""),
		From:     stringFromEnv("SMTP_FROM", ""),
	}
}
