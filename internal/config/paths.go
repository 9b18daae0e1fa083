package config

// configFileName is the conf.ini filename resolved relative to the
// process's working directory, per spec.md's "conf.ini in process CWD".
const configFileName = "conf.ini"
