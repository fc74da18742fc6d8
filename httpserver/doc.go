/*
Package httpserver exposes a read-only HTTP API for provisioning stations.

Factory dashboards poll it to see which devices are attached, what state
their security eFuses are in and what past runs produced. The API never
burns, flashes or signs anything; device reads take the same per-port lock
the burner holds, so a poll cannot interleave with a burn.

# Endpoints

  - GET /api/v1/ports - Candidate serial ports
  - GET /api/v1/device?port=P - Device security state (chip, MAC, secure boot, flash encryption)
  - GET /api/v1/records/{id} - Archived provisioning record by content ID
  - GET /livez - Liveness check
  - GET /readyz - Readiness check
  - GET /drain - Mark the station as not ready; device endpoints answer 503
  - GET /undrain - Mark the station as ready

# Example Usage

	handler := httpserver.NewHandler(serialport.NewResolver(), inspector.New(runner, 0, log), archive, lockDir, log)
	server := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               "127.0.0.1:8080",
		Log:                      log,
		DrainDuration:            5 * time.Second,
		GracefulShutdownDuration: 10 * time.Second,
		ReadTimeout:              5 * time.Second,
		WriteTimeout:             30 * time.Second,
	}, handler)
	server.RunInBackground()
	defer server.Shutdown()
*/
package httpserver
