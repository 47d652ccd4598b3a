package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"ezville-go-home/internal/coordinator"
	"ezville-go-home/internal/protocol"
	"ezville-go-home/internal/store"
)

// deviceView is a live state record plus the user-assigned name.
type deviceView struct {
	coordinator.Record
	Name string `json:"name,omitempty"`
}

// deviceNames maps record keys to stored friendly names.
func (s *Server) deviceNames() map[string]string {
	devices, err := s.coord.Store().ListDevices()
	if err != nil {
		s.logger.Error("list stored devices", "err", err)
		return nil
	}
	names := make(map[string]string, len(devices))
	for _, d := range devices {
		if d.Name != "" {
			names[d.Key] = d.Name
		}
	}
	return names
}

func (s *Server) handleAPIListDevices(w http.ResponseWriter, r *http.Request) {
	names := s.deviceNames()
	records := s.coord.States().List()
	views := make([]deviceView, 0, len(records))
	for _, rec := range records {
		views = append(views, deviceView{Record: rec, Name: names[rec.Key]})
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAPIGetDevice(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	rec, ok := s.coord.States().Get(key)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
		return
	}
	view := deviceView{Record: rec}
	if dev, err := s.coord.Store().GetDevice(key); err == nil {
		view.Name = dev.Name
	}
	s.writeJSON(w, http.StatusOK, view)
}

type renameDeviceRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleAPIRenameDevice(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	var req renameDeviceRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := s.coord.RenameDevice(key, req.Name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
			return
		}
		s.logger.Error("rename device", "err", err, "key", key)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "name": req.Name})
}

func (s *Server) handleAPIForgetDevice(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := s.coord.ForgetDevice(key); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
			return
		}
		s.logger.Error("forget device", "err", err, "key", key)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIDeviceCommand(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	family, id, err := splitDeviceKey(key)
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}

	var attrs map[string]interface{}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&attrs); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(attrs) == 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no attributes in request"})
		return
	}

	for attr, value := range attrs {
		if err := s.applyCommand(family, id, attr, value); err != nil {
			s.logger.Warn("device command rejected", "key", key, "attr", attr, "err", err)
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// splitDeviceKey takes a record key like "light_1_2" or "fan" apart into
// the family and the id remainder.
func splitDeviceKey(key string) (protocol.Family, string, error) {
	name, id, _ := strings.Cut(key, "_")
	family := protocol.Family(name)
	if _, ok := protocol.FamilyID(family); !ok {
		return "", "", fmt.Errorf("device key %q: unknown family", key)
	}
	return family, id, nil
}

// splitDualID splits "room_num" ids like "1_2".
func splitDualID(id string) (room, num int, err error) {
	a, b, found := strings.Cut(id, "_")
	if !found {
		return 0, 0, fmt.Errorf("device id %q: want room_num", id)
	}
	if room, err = strconv.Atoi(a); err != nil {
		return 0, 0, fmt.Errorf("device id %q: %w", id, err)
	}
	if num, err = strconv.Atoi(b); err != nil {
		return 0, 0, fmt.Errorf("device id %q: %w", id, err)
	}
	return room, num, nil
}

// applyCommand translates one attribute write into a bus command. Attribute
// names and value semantics follow the MQTT command topics, so the two
// control surfaces stay interchangeable.
func (s *Server) applyCommand(family protocol.Family, id, attr string, value interface{}) error {
	switch family {
	case protocol.FamilyLight:
		room, num, err := splitDualID(id)
		if err != nil {
			return err
		}
		on, err := boolValue(value)
		if err != nil {
			return err
		}
		return s.coord.SetLight(room, num, on)

	case protocol.FamilyPlug:
		room, num, err := splitDualID(id)
		if err != nil {
			return err
		}
		on, err := boolValue(value)
		if err != nil {
			return err
		}
		return s.coord.SetPlug(room, num, on)

	case protocol.FamilyThermostat:
		room, err := strconv.Atoi(id)
		if err != nil {
			return fmt.Errorf("thermostat id %q: %w", id, err)
		}
		switch attr {
		case "mode":
			mode, err := stringValue(value)
			if err != nil {
				return err
			}
			return s.coord.SetThermostatMode(room, mode == "heat")
		case "target":
			temp, err := intValue(value)
			if err != nil {
				return err
			}
			return s.coord.SetThermostatTarget(room, temp)
		case "away":
			away, err := boolValue(value)
			if err != nil {
				return err
			}
			return s.coord.SetThermostatAway(room, away)
		}

	case protocol.FamilyFan:
		switch attr {
		case "power":
			on, err := boolValue(value)
			if err != nil {
				return err
			}
			return s.coord.SetFanPower(on)
		case "speed":
			speed, err := intValue(value)
			if err != nil {
				return err
			}
			if speed == 0 {
				return s.coord.SetFanPower(false)
			}
			return s.coord.SetFanSpeed(speed)
		case "mode":
			preset, err := stringValue(value)
			if err != nil {
				return err
			}
			return s.coord.SetFanPreset(preset)
		}

	case protocol.FamilyGas:
		if attr == "valve" {
			v, err := stringValue(value)
			if err != nil {
				return err
			}
			switch strings.ToUpper(v) {
			case "CLOSE", "OFF":
				return s.coord.CloseGasValve()
			case "OPEN":
				return fmt.Errorf("gas valve cannot be opened remotely")
			}
			return fmt.Errorf("gas valve value %q not recognized", v)
		}

	case protocol.FamilyElevator:
		if attr == "power" || attr == "call" {
			return s.coord.CallElevator()
		}

	case protocol.FamilyDoorbell:
		return s.coord.Doorbell(attr)
	}

	return fmt.Errorf("attribute %q is read-only", attr)
}

// boolValue accepts JSON booleans plus the ON/OFF strings the MQTT side
// uses, so payloads can be pasted between the two.
func boolValue(v interface{}) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToUpper(b) {
		case "ON", "1", "TRUE":
			return true, nil
		case "OFF", "0", "FALSE":
			return false, nil
		}
	case float64:
		return b != 0, nil
	}
	return false, fmt.Errorf("value %v: want a boolean", v)
}

func intValue(v interface{}) (int, error) {
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("value %q: %w", n, err)
		}
		return i, nil
	}
	return 0, fmt.Errorf("value %v: want a number", v)
}

func stringValue(v interface{}) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", fmt.Errorf("value %v: want a string", v)
}

func (s *Server) handleAPIEvents(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.recent.snapshot())
}

func (s *Server) handleAPIStats(w http.ResponseWriter, r *http.Request) {
	info := s.coord.BusInfo()
	info["counters"] = s.coord.Stats().Snapshot()
	s.writeJSON(w, http.StatusOK, info)
}

type sendRawRequest struct {
	Frame string `json:"frame"`
}

func (s *Server) handleAPISendRaw(w http.ResponseWriter, r *http.Request) {
	var req sendRawRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := s.coord.SendRaw(req.Frame); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIPoll(w http.ResponseWriter, r *http.Request) {
	s.coord.PollNow()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
