// Package arduino implements the serial bridge to the brewery controller.
//
// The controller is an Arduino that owns the physical I/O: DS18B20
// temperature probes, analog pressure transducers and the digital pins
// driving heater elements and pumps. The host is authoritative for
// configuration and control decisions; the board reports readings and
// echoes pin states.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐
//	│  brewery.Store  │◄────────►│     Session     │  serial
//	│  control.Engine │          │   (this pkg)    │◄────────► Arduino
//	└─────────────────┘          └─────────────────┘
//
// # Wire Format
//
// Device to host, one record per line, in either framing:
//
//	Tsensor:index=0;serial=28FFAC378217045A;cur_temp=66.43
//	<analogpin:name=Pin0,pin_num=0,value=2.50>
//
// Host to device, '#'-terminated:
//
//	!                                      dump everything
//	13=ON#                                 drive pin 13 high
//	heater:index=0;setpoint_high=128.0#    update firmware heater config
//
// # Poll Cycle
//
// Every poll interval the session sends "!", reads the dump until the line
// goes quiet, applies each record to the store, runs control, then sends
// heater corrections and one status command per actuator whose desired
// state differs from the last device echo.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package arduino
