// Package influxdb writes brewery telemetry to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Each telemetry tick
// writes one point per sensor and actuator plus a process point:
//
//	sensor,sensor=TSensor\ 1,kind=temperature,unit=F value=152.3
//	actuator,actuator=Heater\ 1,kind=heater on=1i,device_on=1i,setpoint=152,...
//	process elapsed_seconds=3600,stale=false
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteSensorReading(reading, time.Now())
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval; failures arrive through SetOnError.
package influxdb
