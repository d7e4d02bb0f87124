package api

import (
	"encoding/json"
	"fmt"
)

// Decode looks up msgType in the compile-time table and unmarshals
// payload into a freshly allocated value of the matching Go type. It
// returns (nil, false) for unrecognized types, which the caller (the
// Client Facade's dispatch table, spec.md §4.5) logs and drops.
func Decode(msgType uint64, payload []byte) (any, bool) {
	ctor, ok := decoders[msgType]
	if !ok {
		return nil, false
	}
	return ctor(payload)
}

// Encode serializes msg and returns the message type identifier to
// frame it with.
func Encode(msg any) (uint64, []byte, error) {
	entry, ok := encoders[typeNameOf(msg)]
	if !ok {
		return 0, nil, fmt.Errorf("api: no encoder registered for %T", msg)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, nil, fmt.Errorf("api: encode %T: %w", msg, err)
	}
	return entry, payload, nil
}

func typeNameOf(msg any) string {
	return fmt.Sprintf("%T", msg)
}

type decodeFunc func([]byte) (any, bool)

func jsonDecoder[T any]() decodeFunc {
	return func(payload []byte) (any, bool) {
		var v T
		if len(payload) == 0 {
			return v, true
		}
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, false
		}
		return v, true
	}
}

var decoders = map[uint64]decodeFunc{
	TypeHelloRequest:                     jsonDecoder[HelloRequest](),
	TypeConnectRequest:                   jsonDecoder[ConnectRequest](),
	TypeDeviceInfoRequest:                jsonDecoder[DeviceInfoRequest](),
	TypeListEntitiesRequest:              jsonDecoder[ListEntitiesRequest](),
	TypeSubscribeStatesRequest:           jsonDecoder[SubscribeStatesRequest](),
	TypeHelloResponse:                    jsonDecoder[HelloResponse](),
	TypeConnectResponse:                  jsonDecoder[ConnectResponse](),
	TypeDisconnectRequest:                jsonDecoder[DisconnectRequest](),
	TypeDisconnectResponse:               jsonDecoder[DisconnectResponse](),
	TypePingRequest:                      jsonDecoder[PingRequest](),
	TypePingResponse:                     jsonDecoder[PingResponse](),
	TypeDeviceInfoResponse:               jsonDecoder[DeviceInfoResponse](),
	TypeListEntitiesDoneResponse:         jsonDecoder[ListEntitiesDoneResponse](),
	TypeListEntitiesBinarySensorResponse: jsonDecoder[ListEntitiesBinarySensorResponse](),
	TypeListEntitiesCoverResponse:        jsonDecoder[ListEntitiesCoverResponse](),
	TypeListEntitiesFanResponse:          jsonDecoder[ListEntitiesFanResponse](),
	TypeListEntitiesLightResponse:        jsonDecoder[ListEntitiesLightResponse](),
	TypeListEntitiesSensorResponse:       jsonDecoder[ListEntitiesSensorResponse](),
	TypeListEntitiesSwitchResponse:       jsonDecoder[ListEntitiesSwitchResponse](),
	TypeListEntitiesTextSensorResponse:   jsonDecoder[ListEntitiesTextSensorResponse](),
	TypeBinarySensorStateResponse:        jsonDecoder[BinarySensorStateResponse](),
	TypeCoverStateResponse:               jsonDecoder[CoverStateResponse](),
	TypeFanStateResponse:                 jsonDecoder[FanStateResponse](),
	TypeLightStateResponse:               jsonDecoder[LightStateResponse](),
	TypeSensorStateResponse:              jsonDecoder[SensorStateResponse](),
	TypeSwitchStateResponse:              jsonDecoder[SwitchStateResponse](),
	TypeTextSensorStateResponse:          jsonDecoder[TextSensorStateResponse](),
	TypeSubscribeLogsResponse:            jsonDecoder[SubscribeLogsResponse](),
}

var encoders = map[string]uint64{
	typeNameOf(HelloRequest{}):           TypeHelloRequest,
	typeNameOf(ConnectRequest{}):         TypeConnectRequest,
	typeNameOf(DisconnectRequest{}):      TypeDisconnectRequest,
	typeNameOf(DisconnectResponse{}):     TypeDisconnectResponse,
	typeNameOf(PingRequest{}):            TypePingRequest,
	typeNameOf(PingResponse{}):           TypePingResponse,
	typeNameOf(DeviceInfoRequest{}):      TypeDeviceInfoRequest,
	typeNameOf(ListEntitiesRequest{}):    TypeListEntitiesRequest,
	typeNameOf(SubscribeStatesRequest{}): TypeSubscribeStatesRequest,
	typeNameOf(SubscribeLogsRequest{}):   TypeSubscribeLogsRequest,
	typeNameOf(SwitchCommandRequest{}):   TypeSwitchCommandRequest,
	typeNameOf(LightCommandRequest{}):    TypeLightCommandRequest,
	typeNameOf(FanCommandRequest{}):      TypeFanCommandRequest,
	typeNameOf(CoverCommandRequest{}):    TypeCoverCommandRequest,
}

// init makes every decodable message type encodable as well, so a
// simulated device (esphome/esptest) can send the responses it decodes.
func init() {
	for msgType, decode := range decoders {
		if v, ok := decode(nil); ok {
			encoders[typeNameOf(v)] = msgType
		}
	}
}
