// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON on stdout, picked up by the platform log shipper
//   - Development: colored console output
//
// Components receive a named *zap.Logger from Logger.Component and add
// trace correlation with TraceFields:
//
//	logger := logging.NewFromLevel("info", false)
//	log := logger.Component("bootstrap")
//	log.Info("collector resolved", zap.String("endpoint", ep.String()))
//	log.Debug("handled", logging.TraceFields(ctx)...)
package logging
