// Package serialport resolves which serial device to talk to and probes
// whether an ESP32 answers on it.
package serialport
