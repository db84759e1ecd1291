package client

import "go.opentelemetry.io/contrib/bridges/otelslog"

const scopeName = "github.com/koscakluka/ema-relay/core/client"

var logger = otelslog.NewLogger(scopeName)
