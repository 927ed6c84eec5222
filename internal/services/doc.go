// Package services holds the pieces shared by the external integrations
// (detector, plate reader, Home Assistant publisher) and the pipeline that
// drives them.
//
// It provides error markers plus the Wrap helper so callers can classify
// failures with errors.Is, and context helpers that stamp track ids, stream
// names and correlation ids for logging.
package services
