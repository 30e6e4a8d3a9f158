/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

/*
Package clock wraps the CLOCK_ADJTIME syscall for the operations a slave servo needs.

It works with the system realtime clock as well as with PHC devices:
  - reading the current frequency through FrequencyPPB
  - adjusting the frequency through AdjFreqPPB
  - handing a phase offset to the kernel through AdjPhase
  - stepping the clock forwards or backwards through Step
  - reading the maximum frequency adjustment through MaxFreqPPB
  - marking the clock synchronized through SetSync
  - arming leap seconds and setting the TAI offset through SetLeap and SetTAIOffset
*/
package clock
