// Package api is the compile-time stand-in for a generated protobuf
// package: message type identifiers and the Go structs carried as their
// payloads. Real deployments replace this package with the output of a
// .proto compiler; the client only depends on the encode/decode table in
// table.go, per spec.md's "the protobuf schema itself is consumed as a
// black box producing encoder/decoder functions keyed by message
// identifier."
package api

// Message type identifiers, per spec.md §6.
const (
	TypeHelloRequest  = 1
	TypeHelloResponse = 2

	// Connect and Authenticate share identifier 3/4 in the reference
	// implementation; treated as a single pair per spec.md §9 note (b).
	TypeConnectRequest  = 3
	TypeConnectResponse = 4

	TypeDisconnectRequest  = 5
	TypeDisconnectResponse = 6

	TypePingRequest  = 7
	TypePingResponse = 8

	TypeDeviceInfoRequest  = 9
	TypeDeviceInfoResponse = 10

	TypeListEntitiesRequest     = 11
	TypeListEntitiesDoneResponse = 19

	TypeListEntitiesBinarySensorResponse = 12
	TypeListEntitiesCoverResponse        = 13
	TypeListEntitiesFanResponse          = 14
	TypeListEntitiesLightResponse        = 15
	TypeListEntitiesSensorResponse       = 16
	TypeListEntitiesSwitchResponse       = 17
	TypeListEntitiesTextSensorResponse   = 18

	TypeSubscribeStatesRequest = 20

	TypeBinarySensorStateResponse = 21
	TypeCoverStateResponse        = 22
	TypeFanStateResponse          = 23
	TypeLightStateResponse        = 24
	TypeSensorStateResponse       = 25
	TypeSwitchStateResponse       = 26
	TypeTextSensorStateResponse   = 27

	TypeSubscribeLogsRequest  = 28
	TypeSubscribeLogsResponse = 29

	TypeCoverCommandRequest  = 30
	TypeFanCommandRequest    = 31
	TypeLightCommandRequest  = 32
	TypeSwitchCommandRequest = 33

	// Extended identifiers added by later protocol revisions, for the
	// additional kinds named in spec.md §4.5 ("and all additional kinds
	// enumerated by the proto schema"). Camera, alarm control panel and
	// siren have no identifiers here.
	TypeListEntitiesNumberResponse            = 49
	TypeNumberStateResponse                   = 50
	TypeNumberCommandRequest                  = 51
	TypeListEntitiesSelectResponse            = 52
	TypeSelectStateResponse                   = 53
	TypeSelectCommandRequest                  = 54
	TypeListEntitiesLockResponse              = 58
	TypeLockStateResponse                     = 59
	TypeLockCommandRequest                    = 60
	TypeListEntitiesButtonResponse            = 61
	TypeButtonCommandRequest                  = 62
	TypeListEntitiesMediaPlayerResponse        = 63
	TypeMediaPlayerStateResponse              = 64
	TypeMediaPlayerCommandRequest             = 65
	TypeListEntitiesClimateResponse           = 46
	TypeClimateStateResponse                  = 47
	TypeClimateCommandRequest                 = 48
	TypeListEntitiesTextResponse              = 95
	TypeTextStateResponse                     = 96
	TypeTextCommandRequest                    = 97
	TypeListEntitiesDateResponse              = 98
	TypeDateStateResponse                     = 99
	TypeDateCommandRequest                    = 100
	TypeListEntitiesTimeResponse              = 101
	TypeTimeStateResponse                     = 102
	TypeTimeCommandRequest                    = 103
	TypeListEntitiesEventResponse             = 107
	TypeEventResponse                         = 108
	TypeListEntitiesValveResponse             = 109
	TypeValveStateResponse                    = 110
	TypeValveCommandRequest                   = 111
	TypeListEntitiesDateTimeResponse          = 112
	TypeDateTimeStateResponse                 = 113
	TypeDateTimeCommandRequest                = 114
	TypeListEntitiesUpdateResponse            = 116
	TypeUpdateStateResponse                   = 117
	TypeUpdateCommandRequest                  = 118
)

// HelloRequest is the first message sent on a new connection.
type HelloRequest struct {
	ClientInfo       string
	APIVersionMajor  uint32
	APIVersionMinor  uint32
}

// HelloResponse carries the device's protocol version and banner.
type HelloResponse struct {
	APIVersionMajor uint32
	APIVersionMinor uint32
	ServerInfo      string
}

// ConnectRequest carries the plaintext password, if one is configured.
type ConnectRequest struct {
	Password string
}

// ConnectResponse indicates whether the password was accepted.
type ConnectResponse struct {
	InvalidPassword bool
}

// DisconnectRequest/Response carry no fields; either side may send
// DisconnectRequest to initiate an orderly teardown.
type DisconnectRequest struct{}
type DisconnectResponse struct{}

// PingRequest/Response carry no fields.
type PingRequest struct{}
type PingResponse struct{}

// DeviceInfoRequest carries no fields.
type DeviceInfoRequest struct{}

// DeviceInfoResponse is the device's static metadata, fetched once per
// connection after authentication.
type DeviceInfoResponse struct {
	UsesPassword        bool
	Name                string
	MacAddress          string
	ESPHomeVersion      string
	CompilationTime     string
	Model               string
	HasDeepSleep        bool
	ProjectName         string
	ProjectVersion      string
	WebserverPort       uint32
	ManufacturerName    string
	FriendlyName        string
	SuggestedArea       string
	BluetoothProxyFeatureFlags uint32
	VoiceAssistantFeatureFlags uint32
}

// ListEntitiesRequest carries no fields.
type ListEntitiesRequest struct{}

// ListEntitiesDoneResponse terminates the enumeration started by
// ListEntitiesRequest.
type ListEntitiesDoneResponse struct{}

// SubscribeStatesRequest carries no fields.
type SubscribeStatesRequest struct{}

// SubscribeLogsRequest selects a minimum log level to stream.
type SubscribeLogsRequest struct {
	Level      LogLevel
	DumpConfig bool
}

// SubscribeLogsResponse is one streamed log line.
type SubscribeLogsResponse struct {
	Level   LogLevel
	Message []byte
}

// LogLevel mirrors spec.md's Glossary entry.
type LogLevel int32

const (
	LogLevelNone LogLevel = iota
	LogLevelError
	LogLevelWarn
	LogLevelInfo
	LogLevelConfig
	LogLevelDebug
	LogLevelVerbose
	LogLevelVeryVerbose
)
