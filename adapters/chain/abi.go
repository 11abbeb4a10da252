package chain

// IdentityRegistryABI is the interface of the on-chain identity registry
const IdentityRegistryABI = `[
  {
    "type": "function",
    "name": "registerIdentity",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "username", "type": "string"},
      {"name": "passwordCommitment", "type": "bytes32"},
      {"name": "socialIdHash", "type": "bytes32"},
      {"name": "provider", "type": "string"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "authenticate",
    "stateMutability": "view",
    "inputs": [
      {"name": "username", "type": "string"},
      {"name": "passwordCommitment", "type": "bytes32"}
    ],
    "outputs": [
      {"name": "account", "type": "address"}
    ]
  },
  {
    "type": "function",
    "name": "getAuthMethods",
    "stateMutability": "view",
    "inputs": [
      {"name": "account", "type": "address"}
    ],
    "outputs": [
      {"name": "methods", "type": "string[]"}
    ]
  },
  {
    "type": "function",
    "name": "getIdentity",
    "stateMutability": "view",
    "inputs": [
      {"name": "account", "type": "address"}
    ],
    "outputs": [
      {"name": "username", "type": "string"},
      {"name": "account", "type": "address"},
      {"name": "verified", "type": "bool"},
      {"name": "locked", "type": "bool"}
    ]
  }
]`

const (
	methodRegister       = "registerIdentity"
	methodAuthenticate   = "authenticate"
	methodGetAuthMethods = "getAuthMethods"
	methodGetIdentity    = "getIdentity"
)
