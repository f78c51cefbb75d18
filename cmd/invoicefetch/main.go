package main

import (
	"context"

	"invoicefetch/cmd/invoicefetch/commands"
	"invoicefetch/lib/serviceutil"
	"invoicefetch/lib/telemetry"
)

func main() {
	ctx := serviceutil.SignalContext()
	telemetry.SetupFromEnv(ctx, "invoicefetch")
	defer telemetry.Shutdown(context.Background())

	commands.ExecuteContext(ctx)
}
