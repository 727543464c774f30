package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestMethodNames(t *testing.T) {
	if MethodSetBluetoothName != "setBluetoothName" {
		t.Errorf("Unexpected set method name %q", MethodSetBluetoothName)
	}
	if MethodGetBluetoothName != "getBluetoothName" {
		t.Errorf("Unexpected get method name %q", MethodGetBluetoothName)
	}
	if len(SupportedMethods) != 2 {
		t.Errorf("Expected 2 supported methods, got %d", len(SupportedMethods))
	}
}

func TestMethodCallArguments(t *testing.T) {
	call := MethodCall{
		Method:    string(MethodSetBluetoothName),
		Arguments: map[string]interface{}{"name": "Desk-A", "count": 3.0},
	}

	if name, ok := call.StringArgument("name"); !ok || name != "Desk-A" {
		t.Errorf("Expected name Desk-A, got %q (%v)", name, ok)
	}
	if _, ok := call.StringArgument("count"); ok {
		t.Error("Expected non-string argument to be rejected")
	}
	if _, ok := call.StringArgument("missing"); ok {
		t.Error("Expected missing argument to be reported")
	}

	var empty MethodCall
	if _, ok := empty.Argument("name"); ok {
		t.Error("Expected nil argument map to yield no arguments")
	}
}

func TestCallMessageDecode(t *testing.T) {
	raw := `{"message_id":"abc","method":"setBluetoothName","arguments":{"name":"Pixel"}}`

	var msg CallMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("Failed to unmarshal call: %v", err)
	}

	call := msg.Call()
	if call.Method != "setBluetoothName" {
		t.Errorf("Expected method setBluetoothName, got %s", call.Method)
	}
	if name, _ := call.StringArgument("name"); name != "Pixel" {
		t.Errorf("Expected name Pixel, got %s", name)
	}
}

func TestResponseForNullResult(t *testing.T) {
	data, err := json.Marshal(ResponseFor("m1", Success(nil)))
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	if string(data) != `{"message_id":"m1","result":null}` {
		t.Errorf("Expected explicit null result, got %s", data)
	}
}

func TestResponseForNotImplemented(t *testing.T) {
	data, err := json.Marshal(ResponseFor("m2", NotImplemented()))
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	if strings.Contains(string(data), "result") {
		t.Errorf("Not-implemented frame must not carry a result: %s", data)
	}
	if !strings.Contains(string(data), `"not_implemented":true`) {
		t.Errorf("Expected not_implemented flag, got %s", data)
	}
}

func TestResponseForBool(t *testing.T) {
	data, _ := json.Marshal(ResponseFor("m3", Success(false)))
	if string(data) != `{"message_id":"m3","result":false}` {
		t.Errorf("Expected false result, got %s", data)
	}
}

func TestBridgeInfoMessageJSON(t *testing.T) {
	info := BridgeInfoMessage{
		Channel:         DefaultChannel,
		Version:         "1.0.0",
		Methods:         SupportedMethods,
		PermissionGated: true,
	}

	data, err := json.Marshal(info)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if decoded["channel"] != "com.attendo/bluetooth" {
		t.Errorf("Expected default channel, got %v", decoded["channel"])
	}
	if _, ok := decoded["platform_version"]; ok {
		t.Error("Expected empty platform_version to be omitted")
	}
	methods, ok := decoded["methods"].([]interface{})
	if !ok || len(methods) != 2 {
		t.Errorf("Expected two methods, got %v", decoded["methods"])
	}
}

func TestGenerateMessageID(t *testing.T) {
	a, b := GenerateMessageID(), GenerateMessageID()
	if a == "" || a == b {
		t.Errorf("Expected unique non-empty IDs, got %q and %q", a, b)
	}
	if len(a) != 36 {
		t.Errorf("Expected UUID string length 36, got %d", len(a))
	}
}
