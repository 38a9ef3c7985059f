package cron_config

type Config struct {
	// Heartbeat check, every minute
	CronScheduleHeartbeat string `env:"CRON_SCHEDULE_HEARTBEAT" envDefault:"0 * * * * *"`
	// Feed image archiver, daily at 03:00
	CronScheduleArchiver string `env:"CRON_SCHEDULE_ARCHIVER" envDefault:"0 0 3 * * *"`
	// IMAP inbox poll, every five minutes
	CronScheduleInboxPoll string `env:"CRON_SCHEDULE_INBOX_POLL" envDefault:"0 */5 * * * *"`
}
