package transcript

import "go.opentelemetry.io/contrib/bridges/otelslog"

const scopeName = "github.com/koscakluka/ema-relay/core/transcript"

var logger = otelslog.NewLogger(scopeName)
