// Package flagbridge exposes an experimentation SDK to a host application over a
// message channel.
//
// A host sends a method name and an argument map; the Bridge validates the
// arguments, calls exactly one SDK operation on its client or user context and
// replies with a value or a coded *Error.
package flagbridge

import (
	"log/slog"

	"github.com/OrlandoBitencourt/flagbridge/internal/sdk"
	"github.com/OrlandoBitencourt/flagbridge/internal/telemetry"
)

// ChannelName is the channel the host addresses the bridge on
const ChannelName = "optimizely_plugin"

// Intervals every client started by the bridge is configured with
const (
	DatafilePollInterval  = sdk.DatafilePollInterval
	EventDispatchInterval = sdk.EventDispatchInterval
)

// Method names accepted on the channel
const (
	MethodInitManager           = "initOptimizelyManager"
	MethodInitManagerAsync      = "initOptimizelyManagerAsync"
	MethodSetUser               = "setUser"
	MethodIsFeatureEnabled      = "isFeatureEnabled"
	MethodGetAllFeatureVars     = "getAllFeatureVariables"
	MethodGetAllEnabledFeatures = "getAllEnabledFeatures"
	MethodGetVariation          = "getVariation"
	MethodActivateGetVariation  = "activateGetVariation"
	MethodTrackEvent            = "trackEvent"
)

// bridgeConfig holds internal configuration.
type bridgeConfig struct {
	starter   sdk.Starter
	logger    *slog.Logger
	telemetry telemetry.Provider
}

// clientConfig builds the SDK configuration for a begin-client call;
// a nil datafile makes the client fetch its configuration remotely.
func clientConfig(sdkKey string, datafile []byte) sdk.Config {
	return sdk.Config{
		SDKKey:           sdkKey,
		Datafile:         datafile,
		PollInterval:     DatafilePollInterval,
		DispatchInterval: EventDispatchInterval,
	}
}
