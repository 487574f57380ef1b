/*
Package config loads and validates the daemon configuration.

A Configuration is a YAML tree with four sections: glb (settings shared
by both roles), head (head-node only), disk (disk-node only) and mdcache
(the metadata cache). Values are applied in this order, later ones
winning:

 1. compiled-in defaults from NewDefault
 2. a YAML file, read by LoadFromFile
 3. DOME_* environment variables, read by LoadFromEnv

The configuration is read once at startup; there is no hot reloading.

# Usage

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile("/etc/domed/domed.yaml"); err != nil {
		log.Fatal(err)
	}
	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

Configuration file format (a subset of the keys):

	glb:
	  role: head
	  workers: 300
	  tickfreq: 10s
	  restclient:
	    poolsize: 8
	    circuitbreaker:
	      threshold: 5
	      timeout: 60s
	  monitor:
	    port: 9090
	  log:
	    level: INFO
	head:
	  db:
	    host: localhost
	    port: 5432
	    poolsz: 10
	  checksum:
	    maxtotal: 100
	    maxpernode: 5
	    qtmout: 1h
	disk:
	  headnode:
	    domeurl: https://head.example.org
	  db:
	    host: localhost
	mdcache:
	  maxitems: 100000
	  itemttl: 5m

Environment variables, each overriding one key:

	DOME_ROLE                       glb.role
	DOME_WORKERS                    glb.workers
	DOME_TICKFREQ                   glb.tickfreq
	DOME_FCGI_LISTENPORT            glb.fcgi.listenport
	DOME_LOG_LEVEL                  glb.log.level
	DOME_LOG_FILE                   glb.log.file
	DOME_MONITOR_PORT               glb.monitor.port
	DOME_PUT_MINFREESPACE_MB        glb.put.minfreespace_mb
	DOME_HEADNODENAME               glb.headnodename
	DOME_DB_HOST, DOME_DB_USER, DOME_DB_PASSWORD,
	DOME_DB_PORT, DOME_DB_POOLSZ, DOME_DB_DRIVER   head.db.*
	DOME_DISK_HEADNODE_DOMEURL      disk.headnode.domeurl
	DOME_DISK_FILEPULLER_PULLHOOK   disk.filepuller.pullhook
	DOME_DISK_DB_HOST               disk.db.host
	DOME_DISK_CHECKSUMBIN           disk.checksumbin
	DOME_MDCACHE_MAXITEMS           mdcache.maxitems
	DOME_MDCACHE_ITEMTTL            mdcache.itemttl

A value that fails to parse as a number or duration is ignored.

# Validation

Validate rejects a configuration unless:
  - glb.role is "head" or "disk"
  - glb.workers and glb.restclient.poolsize are greater than 0
  - glb.monitor.port differs from glb.fcgi.listenport, unless both are 0
  - glb.log.level is DEBUG, INFO, WARN or ERROR
  - for role head: head.db.host is set and head.db.poolsz is greater than 0
  - for role disk: disk.headnode.domeurl and disk.db.host are set
  - mdcache.maxitems is greater than 0

SaveToFile writes the tree back as YAML with file mode 0600.
*/
package config
