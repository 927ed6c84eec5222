// Package config loads, normalizes, and validates drivewatch configuration.
//
// It supplies defaults, expands user paths (including tilde shortcuts), reads
// TOML files, and honours the environment variables the camera deployment
// already uses (CAM_DRIVEWAY_LOW, CAM_DRIVEWAY_HIGH, OLLAMA_URL,
// OLLAMA_VISION_MODEL, MQTT_BROKER, MQTT_USER, MQTT_PASSWORD). Always obtain
// settings through this package so downstream code receives sanitized paths
// and clear validation errors.
package config
