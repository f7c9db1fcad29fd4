/*
Package collector discovers where trace data is sent.

An Endpoint is resolved once per process from an ordered list of sources:

 1. StaticSource: an explicitly configured address (COLLECTOR_ADDR)
 2. EnvSource: OTEL_EXPORTER_OTLP_TRACES_ENDPOINT / OTEL_EXPORTER_OTLP_ENDPOINT
 3. BlobSource: a JSON document published by the infrastructure stack,
    e.g. {"ec2_instance_private_ip": "10.0.1.183"}

The first source that succeeds wins. Sources with nothing configured are
skipped quietly; failing sources are logged and the resolver moves on.

The stack document has carried the address under several names. The
default precedence is ec2_instance_private_ip, ec2_instance_public_ip,
ec2_instance_ip: the function runs inside the VPC, so the private address
is authoritative whenever it is published.
*/
package collector
