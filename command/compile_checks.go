package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[HandleWebhookMessage] = (*HandleWebhookCommand)(nil)
	_ gocmd.Commander[ReleaseClaimMessage]  = (*ReleaseClaimCommand)(nil)
)
