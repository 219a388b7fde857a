/*
Package kafkasource turns a Kafka topic partition into a batch data source.

A range read asks for every message in the half-open offset window
[start, end) of one partition and gets back a single byte buffer with each
payload followed by a delimiter. The read is bounded by an overall time
budget: when the budget runs out the messages read so far are returned, and
fewer messages than requested is a normal result, not an error.

The engine never talks to Kafka directly. It drives a client.Session, a
narrow capability (assign, consume, committed, watermarks, commit, close)
implemented by the drivers under drivers/. Open a session with client.New
or, for the complete set of operations, datasource.Open.

Types shared by all packages (TopicPartition, Message, Watermarks and the
error taxonomy) live in this package.
*/
package kafkasource
