// Package homeassistant publishes plate reads to Home Assistant over MQTT.
//
// On every (re)connect the publisher announces three retained discovery
// configs so Home Assistant creates a "last plate", "last direction" and
// "last detection" sensor under one device. PublishPlate then updates the
// state topics of those sensors plus a JSON attributes topic on the plate
// sensor.
//
// The broker connection is owned by paho with auto-reconnect enabled. While
// disconnected PublishPlate returns services.ErrUnavailable immediately
// instead of queueing.
package homeassistant
