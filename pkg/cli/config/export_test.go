package config

func NewProviderForTest(backend, accountSID, authToken string, mockNumbers ...string) *Provider {
	return &Provider{
		backend:     backend,
		accountSID:  accountSID,
		authToken:   authToken,
		mockNumbers: mockNumbers,
	}
}

func NewQueueForTest(backend, redisAddr string) *Queue {
	return &Queue{
		backend:   backend,
		redisAddr: redisAddr,
		redisKey:  "test:jobs",
	}
}

func NewAuditForTest(backend, dsn string) *Audit {
	return &Audit{
		backend: backend,
		dsn:     dsn,
		table:   "audit_events",
	}
}

func NewSlackForTest(botToken, channelID string) *Slack {
	return &Slack{
		botToken:  botToken,
		channelID: channelID,
	}
}

func NewRepositoryForTest(backend, projectID string) *Repository {
	return &Repository{
		backend:   backend,
		projectID: projectID,
	}
}
