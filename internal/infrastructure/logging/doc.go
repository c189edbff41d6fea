// Package logging configures the structured logger shared across
// CellFleet Core.
//
// It is a small layer over log/slog: config.yaml picks the level,
// format (JSON for machines, text for humans), and destination, and
// every entry carries service and version attributes. Components take
// child loggers via With:
//
//	log := logging.New(cfg.Logging, version)
//	svc.SetLogger(log.With("component", "fleet"))
//
// Domain packages do not import this package directly. Each declares
// its own small Logger interface that *logging.Logger happens to
// satisfy, which keeps them testable with no-op loggers.
//
// Never log secrets or broker credentials; truncate identifiers when
// only a prefix is needed.
package logging
