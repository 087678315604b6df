// Package logger builds *slog.Logger instances with a consistent shape for
// the FinCash services.
//
// New applies functional options (format, level, static attributes and
// context extractors) and wraps the resulting handler with
// LogHandlerDecorator, which pulls request-scoped values such as the request
// id out of context.Context on every record.
//
// Attribute helpers in attr.go keep key names uniform across packages:
//
//	log.LogAttrs(ctx, slog.LevelInfo, "payment intent created",
//		logger.UserID(userID),
//		logger.IntentID(intent.ID),
//		logger.PlanID(intent.TargetPlan),
//	)
//
// Typical bootstrap:
//
//	log := logger.New(
//		logger.WithEnvironment(cfg.Env, cfg.Name),
//		logger.WithContextExtractors(requestid.LoggerExtractor()),
//	)
//	logger.SetAsDefault(log)
package logger
